package postgres

import (
	"context"
	"fmt"

	"github.com/scholaris/scholaris/internal/domain/directory"
)

func (s *Store) ListMembers(ctx context.Context, orgID string) ([]directory.Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, name, role, email, inactive
		 FROM members WHERE org_id = $1 ORDER BY name`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []directory.Member
	for rows.Next() {
		var m directory.Member
		if err := rows.Scan(&m.ID, &m.OrgID, &m.Name, &m.Role, &m.Email, &m.Inactive); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetStudentProgress(ctx context.Context, orgID, studentID string) (*directory.Progress, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT student_id, org_id, grade_average, attendance_pct, completed_units, updated_at
		 FROM student_progress WHERE org_id = $1 AND student_id = $2`,
		orgID, studentID)

	var p directory.Progress
	err := row.Scan(&p.StudentID, &p.OrgID, &p.GradeAverage, &p.AttendancePct, &p.CompletedUnits, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get student progress %s", studentID)
	}
	return &p, nil
}

func (s *Store) GetInvoiceSummary(ctx context.Context, orgID string) (*directory.InvoiceSummary, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT org_id, open_invoices, overdue_cents, paid_cents, as_of
		 FROM invoice_summaries WHERE org_id = $1`,
		orgID)

	var inv directory.InvoiceSummary
	err := row.Scan(&inv.OrgID, &inv.OpenInvoices, &inv.OverdueCents, &inv.PaidCents, &inv.AsOf)
	if err != nil {
		return nil, notFoundWrap(err, "get invoice summary %s", orgID)
	}
	return &inv, nil
}
