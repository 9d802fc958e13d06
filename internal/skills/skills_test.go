package skills

import (
	"context"
	"errors"
	"testing"
)

func TestStubProvider(t *testing.T) {
	ctx := context.Background()
	o := New(true)

	p, err := o.ETA.PredictCompletion(ctx, 1)
	if err != nil || p.Score != 0.85 || p.Confidence != 0.9 {
		t.Fatalf("unexpected prediction %+v (%v)", p, err)
	}
	pack, err := o.Meetings.GeneratePack(ctx, 7)
	if err != nil || pack.HouseholdID != 7 || pack.Status != "READY" || len(pack.Files) != 2 {
		t.Fatalf("unexpected pack %+v (%v)", pack, err)
	}
	d, err := o.Communication.Draft(ctx, "", nil)
	if err != nil || d.Subject != "Update regarding Status" || !d.ApprovalRequired {
		t.Fatalf("unexpected draft %+v (%v)", d, err)
	}
	m, err := o.Entities.Match(ctx, nil)
	if err != nil || m.Summary.TotalRecords != m.Summary.AutoMatched+m.Summary.ReviewQueue+m.Summary.NoMatch {
		t.Fatalf("unexpected match %+v (%v)", m, err)
	}
	if _, err := o.Documents.ValidateDocument(ctx, 1); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("stub validation must be not implemented, got %v", err)
	}
}

func TestDisabledProvider(t *testing.T) {
	ctx := context.Background()
	o := New(false)
	checks := map[string]error{}
	_, checks["next steps"] = o.Workflows.NextSteps(ctx, 1)
	_, checks["extract"] = o.Documents.ExtractInfo(ctx, 1)
	_, checks["eta"] = o.ETA.PredictCompletion(ctx, 1)
	_, checks["meeting"] = o.Meetings.GeneratePack(ctx, 1)
	_, checks["match"] = o.Entities.Match(ctx, nil)
	_, checks["draft"] = o.Communication.Draft(ctx, "welcome", nil)
	for name, err := range checks {
		if !errors.Is(err, ErrNotImplemented) {
			t.Fatalf("%s: expected not implemented, got %v", name, err)
		}
	}
}
