package domain

import "fmt"

// WarningStage identifies where in the pipeline a warning was raised.
type WarningStage string

// Pipeline stages that can raise warnings.
const (
	StageValidation WarningStage = "validation"
	StageExtraction WarningStage = "extraction"
	StageSequencing WarningStage = "sequencing"
	StageMatching   WarningStage = "matching"
	StageAmounts    WarningStage = "amounts"
)

// Warning is a structured, non-fatal problem surfaced alongside batch
// results. Degraded results never block processing; they accumulate here.
type Warning struct {
	Stage   WarningStage `json:"stage"`
	File    string       `json:"file,omitempty"`
	Message string       `json:"message"`
}

// Warningf builds a warning with a formatted message.
func Warningf(stage WarningStage, file, format string, args ...any) Warning {
	return Warning{
		Stage:   stage,
		File:    file,
		Message: fmt.Sprintf(format, args...),
	}
}

func (w Warning) String() string {
	if w.File != "" {
		return fmt.Sprintf("[%s] %s: %s", w.Stage, w.File, w.Message)
	}
	return fmt.Sprintf("[%s] %s", w.Stage, w.Message)
}
