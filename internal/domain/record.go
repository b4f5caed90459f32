package domain

import "time"

type MedicalRecord struct {
	ID          string    `json:"id"`
	PatientName string    `json:"patient_name"`
	DoctorName  string    `json:"doctor_name"`
	Diagnosis   string    `json:"diagnosis"`
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RecordInput — тело запроса на создание/изменение записи.
type RecordInput struct {
	PatientName string `json:"patient_name" validate:"required,max=200"`
	DoctorName  string `json:"doctor_name" validate:"required,max=200"`
	Diagnosis   string `json:"diagnosis" validate:"required,max=500"`
	Notes       string `json:"notes" validate:"max=4000"`
}

// Ref строит ссылку на ресурс с атрибутами владения для проверки доступа.
func (r *MedicalRecord) Ref() ResourceRef {
	return ResourceRef{
		Type: ResourceMedicalRecord,
		ID:   r.ID,
		Attributes: map[string]string{
			AttrAssociatedSubject:    r.PatientName,
			AttrAssignedPractitioner: r.DoctorName,
		},
	}
}

// RecordFilter сужает выборку записей. Пустое поле — без условия.
type RecordFilter struct {
	PatientName string
	DoctorName  string
}
