package registration

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/people/pkg/observability"
	"github.com/platinummonkey/people/pkg/people"
)

// RepairReport summarizes one repair sweep
type RepairReport struct {
	Persons int
	Created int
	Failed  int
	Skipped int
}

// Repair materializes memberships for registered persons created since the
// given time whose registration was interrupted after the person was stored.
// Bulk-imported persons have no identity and are never considered.
// Existing memberships are left alone, so a sweep can safely overlap
// earlier ones.
func (r *Reconciler) Repair(ctx context.Context, since time.Time) (*RepairReport, error) {
	ctx, span := r.tracer.Start(ctx, "registration.Repair", trace.WithAttributes(
		attribute.String("since", since.UTC().Format(time.RFC3339)),
	))
	defer span.End()

	log := observability.LoggerFromContext(ctx, r.deps.Logger).WithField("since", since)

	report := &RepairReport{}
	var after *people.Cursor
	for {
		persons, err := r.deps.People.FindRegisteredSince(ctx, since, after, r.cfg.RepairBatchSize)
		if err != nil {
			r.deps.Metrics.ObserveRepair("error")
			return nil, fmt.Errorf("failed to list recent persons: %w", err)
		}

		for _, p := range persons {
			if err := ctx.Err(); err != nil {
				r.deps.Metrics.ObserveRepair("cancelled")
				return report, err
			}
			if !p.Registered() {
				continue
			}
			report.Persons++
			r.repairPerson(ctx, log, report, p)
		}

		if len(persons) < r.cfg.RepairBatchSize {
			break
		}
		after = persons[len(persons)-1].After()
	}

	r.deps.Metrics.ObserveMemberships(observability.MembershipCreated, report.Created)
	r.deps.Metrics.ObserveMemberships(observability.MembershipFailed, report.Failed)
	r.deps.Metrics.ObserveMemberships(observability.MembershipSkipped, report.Skipped)
	r.deps.Metrics.ObserveRepair("success")

	log.WithFields(logrus.Fields{
		"persons": report.Persons,
		"created": report.Created,
		"failed":  report.Failed,
		"skipped": report.Skipped,
	}).Info("membership repair complete")
	return report, nil
}

func (r *Reconciler) repairPerson(ctx context.Context, log logrus.FieldLogger, report *RepairReport, p *people.Person) {
	plog := log.WithFields(logrus.Fields{"person_id": p.ID, "tenant_id": p.TenantID})
	pending, err := r.eligibleInvitations(ctx, p.Email, p.TenantID)
	if err != nil {
		plog.WithError(err).Warn("invitation lookup failed during repair")
		report.Failed++
		return
	}

	out := &Outcome{Person: p}
	r.materialize(ctx, plog, out, pending, p.Email, p.Name, p.ID)
	report.Created += len(out.Memberships)
	report.Failed += len(out.Failures)
	report.Skipped += len(out.Skipped)
}
