package appointment

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var reportHeader = []string{
	"appointment_id", "status", "doctor_id", "location", "starts_at", "duration_min",
	"patient_id", "patient_name", "patient_email", "patient_phone", "cancel_reason",
}

// WriteReportCSV writes rows in the admin export format with times in loc.
func WriteReportCSV(w io.Writer, rows []ReportRow, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.ID.String(),
			string(r.Status),
			r.DoctorID,
			r.Location,
			r.StartsAt.In(loc).Format(time.RFC3339),
			strconv.Itoa(int(r.Duration / time.Minute)),
			r.PatientID.String(),
			r.PatientName,
			r.PatientEmail,
			r.PatientPhone,
			r.CancelReason,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write report row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
