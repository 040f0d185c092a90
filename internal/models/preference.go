package models

// Preference is a single key/value entry of the preference namespace
type Preference struct {
	Namespace string `json:"namespace" db:"namespace"`
	Key       string `json:"key" db:"key"`
	Value     string `json:"value" db:"value"`
}
