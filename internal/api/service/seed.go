package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"github.com/xela07ax/medrecord-gateway/internal/repository"
	"go.uber.org/zap"
)

// DemoPassword — общий пароль демо-пользователей. Только для --seed.
const DemoPassword = "2025DEVChallenge"

var demoUsers = []NewUser{
	{Username: "admin", Name: "Admin User", Email: "admin@medrecord.com", Role: domain.RoleAdministrator},
	{Username: "drjohnson", Name: "Dr. Sarah Johnson", Email: "sarah.johnson@medrecord.com", Role: domain.RolePractitioner},
	{Username: "drwilliams", Name: "Dr. Robert Williams", Email: "robert.williams@medrecord.com", Role: domain.RolePractitioner},
	{Username: "jsmith", Name: "John Smith", Email: "john.smith@example.com", Role: domain.RoleSubject},
	{Username: "newuser", Name: "Emily Davis", Email: "emily.davis@example.com", Role: domain.RoleSubject},
}

var demoRecords = []domain.RecordInput{
	{
		PatientName: "John Smith",
		DoctorName:  "Dr. Sarah Johnson",
		Diagnosis:   "Hypertension",
		Notes:       "Patient presents with elevated blood pressure readings over the past 3 months. Prescribed lisinopril 10mg daily. Follow-up in 4 weeks.",
	},
	{
		PatientName: "Emily Davis",
		DoctorName:  "Dr. Sarah Johnson",
		Diagnosis:   "Type 2 Diabetes",
		Notes:       "Initial diagnosis. HbA1c: 7.8%. Started on metformin 500mg twice daily. Dietary and exercise counseling provided. Schedule follow-up in 3 months.",
	},
	{
		PatientName: "Michael Chen",
		DoctorName:  "Dr. Robert Williams",
		Diagnosis:   "Seasonal Allergies",
		Notes:       "Patient experiencing nasal congestion, sneezing, and itchy eyes. Prescribed loratadine 10mg daily as needed. Recommended avoiding known allergens.",
	},
	{
		PatientName: "Sophia Rodriguez",
		DoctorName:  "Dr. Robert Williams",
		Diagnosis:   "Migraine",
		Notes:       "Recurring migraines with aura, 2-3 times per month. Prescribed sumatriptan for acute attacks and discussed preventive options. Keeping headache diary.",
	},
	{
		PatientName: "James Wilson",
		DoctorName:  "Dr. Sarah Johnson",
		Diagnosis:   "Lower Back Pain",
		Notes:       "Chronic lower back pain exacerbated by prolonged sitting. Physical therapy referral made. Prescribed naproxen for pain management. Discussed ergonomic improvements for workspace.",
	},
	{
		PatientName: "Olivia Taylor",
		DoctorName:  "Dr. Robert Williams",
		Diagnosis:   "Anxiety Disorder",
		Notes:       "Patient reporting increased anxiety and occasional panic attacks. Started on sertraline 50mg daily. Referred to cognitive behavioral therapy. Follow-up in 4 weeks to assess medication response.",
	},
}

// SeedUsers создает демо-пользователей, если таблица пуста. Возвращает число созданных.
func (s *AuthService) SeedUsers(ctx context.Context) (int, error) {
	n, err := s.users.CountUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed users: %w", err)
	}
	if n > 0 {
		return 0, nil
	}

	created := 0
	for _, nu := range demoUsers {
		nu.Password = DemoPassword
		_, err := s.Provision(ctx, nu)
		if errors.Is(err, repository.ErrConflict) {
			// Параллельный инстанс успел раньше
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}
	s.logger.Info("demo users seeded", zap.Int("count", created))
	return created, nil
}

// SeedRecords создает демо-записи, если таблица пуста.
func (s *RecordService) SeedRecords(ctx context.Context) (int, error) {
	n, err := s.records.CountRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed records: %w", err)
	}
	if n > 0 {
		return 0, nil
	}

	for i, in := range demoRecords {
		if _, err := s.Create(ctx, in); err != nil {
			return i, err
		}
	}
	s.logger.Info("demo records seeded", zap.Int("count", len(demoRecords)))
	return len(demoRecords), nil
}
