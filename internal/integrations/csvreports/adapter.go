package csvreports

import (
    "encoding/csv"
    "errors"
    "fmt"
    "io"
    "strconv"
    "strings"
    "time"

    "healthnav/internal/model"
)

// Adapter parses CSV report sheets. The header row names the columns;
// location_id, condition_id, tests_done and positive_cases are required,
// reported_at (RFC3339), reporter_type and confidence_score are optional.
type Adapter struct {
    // DefaultReporter fills reporter_type when the column is absent or empty.
    DefaultReporter string
}

func (a Adapter) Name() string { return "csv" }

func (a Adapter) ContentType() string { return "text/csv" }

var required = []string{"location_id", "condition_id", "tests_done", "positive_cases"}

func (a Adapter) Decode(r io.Reader) ([]model.ObservationIn, error) {
    cr := csv.NewReader(r)
    cr.TrimLeadingSpace = true
    header, err := cr.Read()
    if err != nil {
        if errors.Is(err, io.EOF) {
            return nil, fmt.Errorf("%w: empty csv", model.ErrInvalidInput)
        }
        return nil, fmt.Errorf("%w: csv header: %v", model.ErrInvalidInput, err)
    }
    col := map[string]int{}
    for i, h := range header {
        col[strings.ToLower(strings.TrimSpace(h))] = i
    }
    for _, k := range required {
        if _, ok := col[k]; !ok {
            return nil, fmt.Errorf("%w: csv missing column %s", model.ErrInvalidInput, k)
        }
    }

    var out []model.ObservationIn
    for line := 2; ; line++ {
        rec, err := cr.Read()
        if errors.Is(err, io.EOF) {
            break
        }
        if err != nil {
            return nil, fmt.Errorf("%w: csv line %d: %v", model.ErrInvalidInput, line, err)
        }
        in, err := a.row(rec, col)
        if err != nil {
            return nil, fmt.Errorf("%w: csv line %d: %v", model.ErrInvalidInput, line, err)
        }
        out = append(out, in)
    }
    return out, nil
}

func (a Adapter) row(rec []string, col map[string]int) (model.ObservationIn, error) {
    get := func(k string) string {
        if i, ok := col[k]; ok && i < len(rec) {
            return strings.TrimSpace(rec[i])
        }
        return ""
    }
    var in model.ObservationIn
    var err error
    if in.LocationID, err = strconv.ParseInt(get("location_id"), 10, 64); err != nil {
        return in, fmt.Errorf("location_id: %v", err)
    }
    if in.ConditionID, err = strconv.ParseInt(get("condition_id"), 10, 64); err != nil {
        return in, fmt.Errorf("condition_id: %v", err)
    }
    if in.TestsDone, err = strconv.Atoi(get("tests_done")); err != nil {
        return in, fmt.Errorf("tests_done: %v", err)
    }
    if in.PositiveCases, err = strconv.Atoi(get("positive_cases")); err != nil {
        return in, fmt.Errorf("positive_cases: %v", err)
    }
    if v := get("reported_at"); v != "" {
        t, err := time.Parse(time.RFC3339, v)
        if err != nil {
            return in, fmt.Errorf("reported_at: %v", err)
        }
        in.ReportedAt = &t
    }
    in.ReporterType = get("reporter_type")
    if in.ReporterType == "" {
        in.ReporterType = a.DefaultReporter
    }
    if v := get("confidence_score"); v != "" {
        if in.ConfidenceScore, err = strconv.ParseFloat(v, 64); err != nil {
            return in, fmt.Errorf("confidence_score: %v", err)
        }
    }
    return in, nil
}
