package model

// TransferBundle is an exam plus its ordered questions, shipped as a single unit
// over the LAN. It has no identity beyond the contained exam's id.
type TransferBundle struct {
	Exam      Exam       `json:"exam"`
	Questions []Question `json:"questions"`
}
