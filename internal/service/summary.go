package service

import (
	"context"
	"math"
	"time"

	"github.com/noah-isme/course-enrollment-api/internal/calendar"
	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/repository"
)

// DefaultCertificateThreshold is the minimum final attendance percentage for a certificate.
const DefaultCertificateThreshold = 80.0

// LedgerCounts are the raw aggregates a summary is derived from.
type LedgerCounts struct {
	ScheduledSoFar int
	RecordedSoFar  int
	AttendedSoFar  int
	Final          *FinalCounts
}

// FinalCounts are the full-term aggregates, present once the offering has ended.
type FinalCounts struct {
	Scheduled int
	Recorded  int
	Attended  int
}

// denominator prefers the schedule and falls back to dates actually taken.
func denominator(scheduled, recorded int) int {
	if scheduled > 0 {
		return scheduled
	}
	return recorded
}

func percentage(attended, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(attended)/float64(total)*100*100) / 100
}

// certificateEligible compares the unrounded ratio against threshold.
func certificateEligible(attended, total int, threshold float64) bool {
	if total <= 0 || attended > total {
		return false
	}
	return float64(attended)*100 >= threshold*float64(total)
}

// ComputeSummary derives the attendance summary for one enrollment.
func ComputeSummary(enrollmentID, offeringID string, counts LedgerCounts, threshold float64, computedAt time.Time) models.AttendanceSummary {
	total := denominator(counts.ScheduledSoFar, counts.RecordedSoFar)
	summary := models.AttendanceSummary{
		EnrollmentID:   enrollmentID,
		OfferingID:     offeringID,
		TotalScheduled: total,
		AttendedCount:  counts.AttendedSoFar,
		Percentage:     percentage(counts.AttendedSoFar, total),
		ComputedAt:     computedAt,
	}
	if counts.Final != nil {
		finalTotal := denominator(counts.Final.Scheduled, counts.Final.Recorded)
		summary.FinalTotalScheduled = intPtr(finalTotal)
		summary.CertificateEligible = certificateEligible(counts.Final.Attended, finalTotal, threshold)
	}
	return summary
}

// hasDeterministicSchedule reports whether the denominator is fully determined by the
// offering itself, so attendance writes never change it for other enrollments.
func hasDeterministicSchedule(o models.Offering) bool {
	return o.StartDate != nil && !calendar.ParseWeekdays(o.ScheduleText).Empty()
}

func offeringBounds(o models.Offering) calendar.Bounds {
	return calendar.Bounds{Start: o.StartDate, End: o.EndDate}
}

// gatherCounts reads every aggregate needed to summarise an enrollment.
func gatherCounts(ctx context.Context, ledger repository.LedgerReader, offering models.Offering, enrollmentID string, today time.Time) (LedgerCounts, error) {
	weekdays := calendar.ParseWeekdays(offering.ScheduleText)
	var earliest *time.Time
	if offering.StartDate == nil {
		var err error
		if earliest, err = ledger.EarliestClassDate(ctx, offering.ID); err != nil {
			return LedgerCounts{}, err
		}
	}

	var counts LedgerCounts
	var err error
	counts.ScheduledSoFar = calendar.Count(weekdays, offeringBounds(offering), earliest, today)
	if counts.ScheduledSoFar == 0 {
		if counts.RecordedSoFar, err = ledger.CountDistinctDatesUpTo(ctx, offering.ID, today); err != nil {
			return LedgerCounts{}, err
		}
	}
	if counts.AttendedSoFar, err = ledger.CountPresentUpTo(ctx, enrollmentID, today); err != nil {
		return LedgerCounts{}, err
	}

	if offering.Ended(today) {
		end := calendar.Day(*offering.EndDate)
		final := &FinalCounts{Scheduled: calendar.Count(weekdays, offeringBounds(offering), earliest, end)}
		if final.Scheduled == 0 {
			if final.Recorded, err = ledger.CountDistinctDatesUpTo(ctx, offering.ID, end); err != nil {
				return LedgerCounts{}, err
			}
		}
		if final.Attended, err = ledger.CountPresentUpTo(ctx, enrollmentID, end); err != nil {
			return LedgerCounts{}, err
		}
		counts.Final = final
	}
	return counts, nil
}
