package domain

// Action — операция над защищаемым ресурсом.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ResourceMedicalRecord — единственный тип ресурса, который знает локальный evaluator.
const ResourceMedicalRecord = "medical_record"

// Ключи атрибутов для проверок владения. Значения совпадают с именами полей записи,
// в таком же виде они уходят во внешний PDP.
const (
	AttrAssignedPractitioner = "doctor_name"
	AttrAssociatedSubject    = "patient_name"
)

// ResourceRef — ссылка на защищаемый ресурс с набором атрибутов для ABAC.
// ID пустой для create (ресурса еще нет).
type ResourceRef struct {
	Type       string            `json:"type"`
	ID         string            `json:"key,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
