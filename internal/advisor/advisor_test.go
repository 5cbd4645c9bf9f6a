package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthnav/internal/model"
)

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("DECISION: LOCAL_REALLOCATION\nREASON: two villages rising")
	require.NoError(t, err)
	assert.Equal(t, model.StrategyLocalReallocation, d.Decision)
	assert.Equal(t, "two villages rising", d.Reason)

	d, err = ParseDecision("Sure.\n\n**Decision:** full recompute\n**Reason:** cholera spike\n")
	require.NoError(t, err)
	assert.Equal(t, model.StrategyFullRecompute, d.Decision)
	assert.Equal(t, "cholera spike", d.Reason)

	_, err = ParseDecision("DECISION: PANIC\nREASON: none")
	require.ErrorIs(t, err, ErrUnparseable)
	_, err = ParseDecision("")
	require.ErrorIs(t, err, ErrUnparseable)
}

func TestSummarize(t *testing.T) {
	latest := []model.Observation{
		{LocationID: 1, ConditionID: 1, RiskScore: 0.7, SpreadVelocity: 0.5},
		{LocationID: 1, ConditionID: 2, RiskScore: 0.2, SpreadVelocity: -0.1},
		{LocationID: 2, ConditionID: 1, RiskScore: 0.3},
	}
	ranked := []model.Candidate{{LocationID: 1, RiskScore: 0.7}, {LocationID: 2, RiskScore: 0.3}}
	s := Summarize(latest, ranked, map[int64]string{1: "Kallur"}, &model.Inventory{Doctors: 4, Kits: 90}, 1)
	assert.Equal(t, 2, s.Locations)
	assert.Equal(t, 3, s.Observations)
	assert.Equal(t, 1, s.Rising)
	assert.Equal(t, 0.7, s.MaxRisk)
	assert.InDelta(t, 0.5, s.MeanRisk, 1e-12)
	require.Len(t, s.Top, 1)
	assert.Equal(t, "Kallur", s.Top[0].Name)

	txt := s.Text()
	assert.Contains(t, txt, "Kallur: 0.700")
	assert.Contains(t, txt, "4 doctors, 90 kits")
	assert.Contains(t, Prompt(s), "DECISION: <option>")
}

func TestRules(t *testing.T) {
	r := DefaultRules()
	ctx := context.Background()
	for _, tc := range []struct {
		s    Summary
		want string
	}{
		{Summary{}, model.StrategyMonitorOnly},
		{Summary{Observations: 4, MaxRisk: 0.65}, model.StrategyFullRecompute},
		{Summary{Observations: 4, Rising: 2, MaxRisk: 0.3}, model.StrategyFullRecompute},
		{Summary{Observations: 4, Rising: 1, MaxRisk: 0.3}, model.StrategyLocalReallocation},
		{Summary{Observations: 4, MaxRisk: 0.3}, model.StrategyMonitorOnly},
	} {
		d, err := r.Decide(ctx, tc.s)
		require.NoError(t, err)
		assert.Equal(t, tc.want, d.Decision, "%+v", tc.s)
		assert.Equal(t, "rules", d.Source)
		assert.NotEmpty(t, d.Reason)
	}
}

func TestHTTPAdvisor(t *testing.T) {
	var gotKey, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		var req generateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Contents) > 0 && len(req.Contents[0].Parts) > 0 {
			gotPrompt = req.Contents[0].Parts[0].Text
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"DECISION: MONITOR_ONLY\nREASON: stable"}]}}]}`))
	}))
	defer srv.Close()

	a := NewHTTPAdvisor(srv.URL, "k1", time.Second)
	d, err := a.Decide(context.Background(), Summary{Locations: 3})
	require.NoError(t, err)
	assert.Equal(t, model.StrategyMonitorOnly, d.Decision)
	assert.Equal(t, "llm", d.Source)
	assert.Equal(t, "k1", gotKey)
	assert.True(t, strings.Contains(gotPrompt, "Locations with reports: 3"))
}

func TestHTTPAdvisorErrors(t *testing.T) {
	assert.Nil(t, NewHTTPAdvisor("", "", 0))

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer bad.Close()
	_, err := NewHTTPAdvisor(bad.URL, "", time.Second).Decide(context.Background(), Summary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()
	_, err = NewHTTPAdvisor(slow.URL, "", 30*time.Millisecond).Decide(context.Background(), Summary{})
	require.Error(t, err)
}

type failing struct{}

func (failing) Decide(context.Context, Summary) (model.StrategyDecision, error) {
	return model.StrategyDecision{}, errors.New("down")
}

func TestFallback(t *testing.T) {
	f := Fallback{Primary: failing{}, Secondary: DefaultRules(), Log: logr.Discard()}
	d, err := f.Decide(context.Background(), Summary{Observations: 2, MaxRisk: 0.9})
	require.NoError(t, err)
	assert.Equal(t, "rules", d.Source)
	assert.Equal(t, model.StrategyFullRecompute, d.Decision)

	d, err = Fallback{Secondary: DefaultRules()}.Decide(context.Background(), Summary{})
	require.NoError(t, err)
	assert.Equal(t, model.StrategyMonitorOnly, d.Decision)
}
