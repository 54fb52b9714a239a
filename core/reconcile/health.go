package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/edupay/feeledger/core"
	"github.com/edupay/feeledger/core/fee"
	"github.com/edupay/feeledger/core/operation"
	"github.com/edupay/feeledger/core/school"
)

const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"

	DefaultWarningThreshold = 10
)

type (
	HealthSummary struct {
		TotalStudents           int `json:"totalStudents"`
		StudentsWithMissingFees int `json:"studentsWithMissingFees"`
		StudentsWithExtraFees   int `json:"studentsWithExtraFees"`
		TotalFeeDiscrepancies   int `json:"totalFeeDiscrepancies"`
	}

	MissingFee struct {
		StudentID      string          `json:"studentId"`
		StudentNumber  string          `json:"studentNumber"`
		StudentName    string          `json:"studentName"`
		ClassroomID    string          `json:"classroomId"`
		ClassroomName  string          `json:"classroomName"`
		TermID         string          `json:"termId"`
		Term           string          `json:"term"`
		Session        string          `json:"session"`
		ExpectedAmount decimal.Decimal `json:"expectedAmount"`
	}

	ExtraFee struct {
		StudentID     string   `json:"studentId"`
		StudentNumber string   `json:"studentNumber"`
		StudentName   string   `json:"studentName"`
		ClassroomID   string   `json:"classroomId"`
		Term          string   `json:"term"`
		Session       string   `json:"session"`
		RecordCount   int      `json:"recordCount"`
		RecordIDs     []string `json:"recordIds"`
	}

	AmountMismatch struct {
		RecordID        string          `json:"recordId"`
		StudentID       string          `json:"studentId"`
		ClassroomID     string          `json:"classroomId"`
		Term            string          `json:"term"`
		Session         string          `json:"session"`
		RecordAmount    decimal.Decimal `json:"recordAmount"`
		StructureAmount decimal.Decimal `json:"structureAmount"`
	}

	OrphanedFee struct {
		RecordID    string `json:"recordId"`
		StudentID   string `json:"studentId"`
		ClassroomID string `json:"classroomId"`
		Term        string `json:"term"`
		Session     string `json:"session"`
	}

	ClassroomStat struct {
		ClassroomID        string `json:"classroomId"`
		ClassroomName      string `json:"classroomName"`
		TotalStudents      int    `json:"totalStudents"`
		StudentsWithIssues int    `json:"studentsWithIssues"`
		MissingFees        int    `json:"missingFees"`
		ExtraFees          int    `json:"extraFees"`
	}

	HealthDetails struct {
		MissingFees      []MissingFee     `json:"missingFees"`
		ExtraFees        []ExtraFee       `json:"extraFees"`
		ClassroomStats   []ClassroomStat  `json:"classroomStats"`
		AmountMismatches []AmountMismatch `json:"amountMismatches"`
		OrphanedFees     []OrphanedFee    `json:"orphanedFees"`
	}

	HealthStatus struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}

	// HealthReport is computed on demand and never stored.
	HealthReport struct {
		Summary      HealthSummary `json:"summary"`
		Details      HealthDetails `json:"details"`
		HealthStatus HealthStatus  `json:"healthStatus"`
		GeneratedAt  time.Time     `json:"generatedAt"`
	}
)

// Classify maps a discrepancy total to a health status.
func Classify(total, warningThreshold int) HealthStatus {
	if warningThreshold <= 0 {
		warningThreshold = DefaultWarningThreshold
	}
	switch {
	case total == 0:
		return HealthStatus{Status: StatusHealthy, Message: "All student fee records are in sync"}
	case total < warningThreshold:
		return HealthStatus{Status: StatusWarning, Message: fmt.Sprintf("%d fee discrepancies found; run a sync or reconciliation", total)}
	default:
		return HealthStatus{Status: StatusCritical, Message: fmt.Sprintf("%d fee discrepancies found; reconciliation required", total)}
	}
}

// Reporter builds read-only health reports of the ledger.
type Reporter struct {
	dir              school.Repository
	fees             fee.Repository
	metrics          core.MetricsRecorder
	warningThreshold int
}

func NewReporter(dir school.Repository, fees fee.Repository, metrics core.MetricsRecorder, conf *core.Config) *Reporter {
	vala.BeginValidation().Validate(
		vala.IsNotNil(dir, "dir"),
		vala.IsNotNil(fees, "fees"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	return &Reporter{
		dir:              dir,
		fees:             fees,
		metrics:          metrics,
		warningThreshold: conf.Sync.HealthWarningThreshold,
	}
}

// Report diffs every classroom against the active terms, or against termID when given.
func (r *Reporter) Report(ctx context.Context, termID string) (HealthReport, error) {
	if termID != "" {
		if _, err := r.dir.GetTerm(ctx, termID); err != nil {
			return HealthReport{}, err
		}
	}
	units, err := expandScope(ctx, r.dir, operation.Scope{TermID: termID})
	if err != nil {
		return HealthReport{}, err
	}

	report := HealthReport{
		Details: HealthDetails{
			MissingFees:      []MissingFee{},
			ExtraFees:        []ExtraFee{},
			ClassroomStats:   []ClassroomStat{},
			AmountMismatches: []AmountMismatch{},
			OrphanedFees:     []OrphanedFee{},
		},
		GeneratedAt: time.Now().UTC(),
	}

	var order []string
	stats := make(map[string]*ClassroomStat)
	issues := make(map[string]map[string]bool) // classroom -> students with issues
	seen := make(map[string]bool)
	withMissing := make(map[string]bool)
	withExtra := make(map[string]bool)

	for _, unit := range units {
		diff, err := diffUnit(ctx, r.dir, r.fees, unit)
		if err != nil {
			return HealthReport{}, errors.Wrapf(err, "checking %s / %s %s", unit.Classroom.Name, unit.Term.Name, unit.Term.Session)
		}

		cid := unit.Classroom.ID
		stat, ok := stats[cid]
		if !ok {
			stat = &ClassroomStat{ClassroomID: cid, ClassroomName: unit.Classroom.Name, TotalStudents: len(diff.Students)}
			stats[cid] = stat
			order = append(order, cid)
			issues[cid] = make(map[string]bool)
			for _, s := range diff.Students {
				if !seen[s.ID] {
					seen[s.ID] = true
					report.Summary.TotalStudents++
				}
			}
		}

		for _, s := range diff.Missing {
			withMissing[s.ID] = true
			issues[cid][s.ID] = true
			stat.MissingFees++
			report.Details.MissingFees = append(report.Details.MissingFees, MissingFee{
				StudentID:      s.ID,
				StudentNumber:  s.StudentID,
				StudentName:    s.Name,
				ClassroomID:    cid,
				ClassroomName:  unit.Classroom.Name,
				TermID:         unit.Term.ID,
				Term:           unit.Term.Name,
				Session:        unit.Term.Session,
				ExpectedAmount: diff.Structure.Amount,
			})
		}

		for _, group := range diff.Duplicates {
			first := group[0]
			withExtra[first.StudentID] = true
			issues[cid][first.StudentID] = true
			stat.ExtraFees += len(group) - 1

			ids := make([]string, 0, len(group))
			for _, rec := range group {
				ids = append(ids, rec.ID)
			}
			extra := ExtraFee{
				StudentID:   first.StudentID,
				ClassroomID: cid,
				Term:        first.Term,
				Session:     first.Session,
				RecordCount: len(group),
				RecordIDs:   ids,
			}
			for _, s := range diff.Students {
				if s.ID == first.StudentID {
					extra.StudentNumber = s.StudentID
					extra.StudentName = s.Name
					break
				}
			}
			report.Details.ExtraFees = append(report.Details.ExtraFees, extra)
		}

		for _, rec := range diff.AmountMismatches {
			report.Details.AmountMismatches = append(report.Details.AmountMismatches, AmountMismatch{
				RecordID:        rec.ID,
				StudentID:       rec.StudentID,
				ClassroomID:     cid,
				Term:            rec.Term,
				Session:         rec.Session,
				RecordAmount:    rec.Amount,
				StructureAmount: diff.Structure.Amount,
			})
		}

		for _, rec := range diff.Orphaned {
			report.Details.OrphanedFees = append(report.Details.OrphanedFees, OrphanedFee{
				RecordID:    rec.ID,
				StudentID:   rec.StudentID,
				ClassroomID: cid,
				Term:        rec.Term,
				Session:     rec.Session,
			})
		}
	}

	for _, cid := range order {
		stat := stats[cid]
		stat.StudentsWithIssues = len(issues[cid])
		report.Details.ClassroomStats = append(report.Details.ClassroomStats, *stat)
	}

	report.Summary.StudentsWithMissingFees = len(withMissing)
	report.Summary.StudentsWithExtraFees = len(withExtra)
	report.Summary.TotalFeeDiscrepancies = report.Summary.StudentsWithMissingFees + report.Summary.StudentsWithExtraFees
	report.HealthStatus = Classify(report.Summary.TotalFeeDiscrepancies, r.warningThreshold)

	r.metrics.HealthDiscrepancies(report.Summary.TotalFeeDiscrepancies)
	return report, nil
}
