package model

type DeviceStatus string

const (
	StatusWaiting   DeviceStatus = "waiting"
	StatusCollected DeviceStatus = "collected"
	StatusEvaluated DeviceStatus = "evaluated"
	StatusAccepted  DeviceStatus = "accepted"
	StatusRejected  DeviceStatus = "rejected"
)

func (s DeviceStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusCollected, StatusEvaluated, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

type DeviceCondition string

const (
	ConditionExcellent DeviceCondition = "excellent"
	ConditionGood      DeviceCondition = "good"
	ConditionFair      DeviceCondition = "fair"
	ConditionPoor      DeviceCondition = "poor"
)

func (c DeviceCondition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor:
		return true
	}
	return false
}

// Device is one entry of the device inventory. Drafts sent for creation only
// carry Name, Type, Defects and UserDescription; the server fills the rest.
type Device struct {
	ID              ID              `json:"id,omitempty"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Defects         string          `json:"defects"`
	UserDescription string          `json:"userDescription"`
	Condition       DeviceCondition `json:"condition,omitempty"`
	Status          DeviceStatus    `json:"status,omitempty"`
	EstimatedPrice  float64         `json:"estimatedPrice,omitempty"`
	AdminNotes      string          `json:"adminNotes,omitempty"`
	ImageURL        string          `json:"imageUrl,omitempty"`
	UploadDate      string          `json:"uploadDate,omitempty"`
	UserID          ID              `json:"userId,omitempty"`
}
