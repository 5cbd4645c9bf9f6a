package csvreports

import (
    "strings"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "healthnav/internal/integrations"
    "healthnav/internal/model"
)

func TestDecode(t *testing.T) {
    src := "Location_ID,condition_id,tests_done,positive_cases,reported_at,confidence_score\n" +
        "1,2,40,6,2024-03-01T09:00:00Z,0.8\n" +
        "3, 2, 0, 0,,\n"
    got, err := Adapter{DefaultReporter: "van"}.Decode(strings.NewReader(src))
    require.NoError(t, err)
    require.Len(t, got, 2)
    assert.Equal(t, int64(1), got[0].LocationID)
    assert.Equal(t, 6, got[0].PositiveCases)
    assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), *got[0].ReportedAt)
    assert.Equal(t, 0.8, got[0].ConfidenceScore)
    assert.Equal(t, "van", got[1].ReporterType)
    assert.Nil(t, got[1].ReportedAt)
}

func TestDecodeErrors(t *testing.T) {
    for _, src := range []string{
        "",
        "location_id,condition_id,tests_done\n1,1,1\n",
        "location_id,condition_id,tests_done,positive_cases\n1,x,1,1\n",
        "location_id,condition_id,tests_done,positive_cases,reported_at\n1,1,1,1,yesterday\n",
    } {
        _, err := Adapter{}.Decode(strings.NewReader(src))
        require.ErrorIs(t, err, model.ErrInvalidInput, src)
    }
}

func TestRegistry(t *testing.T) {
    reg := integrations.NewRegistry(Adapter{})
    d, ok := reg.For("text/csv")
    require.True(t, ok)
    assert.Equal(t, "csv", d.Name())
    _, ok = reg.For("application/xml")
    assert.False(t, ok)
}
