package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cacp/internal/bootstrap/logging"
	"cacp/internal/domain/plan"
	"cacp/internal/errs"
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a CSV of upcoming appointments",
	Long:  "Reads appointment rows from a CSV export and runs each through the proposal pipeline. The first row must be a header naming the columns.",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		filePath, _ := cmd.Flags().GetString("file")
		file, err := os.Open(filePath)
		if err != nil {
			return errs.Wrap(err, "open appointments file")
		}
		defer func() {
			_ = file.Close()
		}()

		appointments, err := readAppointmentsCSV(file)
		if err != nil {
			return errs.Wrap(err, "parse appointments file")
		}

		var submitted, rejected, failed int
		for _, appointment := range appointments {
			result, err := svc.Orchestrator.ProcessAppointment(ctx, appointment)
			if err != nil {
				failed++
				logging.Warn(ctx, "appointment ingestion failed",
					slog.String("appointment_id", appointment.AppointmentID),
					slog.Any("err", errs.Loggable(err)))
				continue
			}
			if result.Rejected {
				rejected++
			} else {
				submitted++
			}
		}

		logging.Info(ctx, "ingest finished",
			slog.Int("submitted", submitted),
			slog.Int("rejected", rejected),
			slog.Int("failed", failed))
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "ingested %d appointments: %d submitted, %d rejected, %d failed\n",
			len(appointments), submitted, rejected, failed); err != nil {
			return errs.Wrap(err, "write ingest output")
		}
		return nil
	}),
}

// readAppointmentsCSV maps rows by header name so clinics can export in any
// column order.
func readAppointmentsCSV(r io.Reader) ([]plan.Appointment, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errs.Wrap(err, "read csv header")
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	field := func(record []string, name string) string {
		index, ok := columns[name]
		if !ok || index >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[index])
	}

	var appointments []plan.Appointment
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(err, "read csv record")
		}

		previousNoShows, _ := strconv.Atoi(field(record, "previous_no_shows"))
		appointments = append(appointments, plan.Appointment{
			AppointmentID:   field(record, "appointment_id"),
			PatientID:       field(record, "patient_id"),
			ClinicID:        field(record, "clinic_id"),
			ScheduledAt:     field(record, "scheduled_at"),
			TreatmentType:   field(record, "treatment_type"),
			IsFirstVisit:    parseBool(field(record, "is_first_visit")),
			PreviousNoShows: previousNoShows,
			PatientPhone:    field(record, "patient_phone"),
			PatientWhatsApp: parseBool(field(record, "patient_whatsapp")),
			ConsentGiven:    parseBool(field(record, "consent_given")),
		})
	}
	return appointments, nil
}

func parseBool(value string) bool {
	parsed, err := strconv.ParseBool(strings.ToLower(value))
	return err == nil && parsed
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().String("file", "", "Path to the appointments CSV")
	_ = ingestCmd.MarkFlagRequired("file")
}
