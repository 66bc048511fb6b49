package resolver

import "fmt"

const (
	StepUpload = "upload"
	StepFiles  = "files"
	StepStatus = "status"
)

// StepError is a remote failure tagged with the pipeline step that produced it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	switch e.Step {
	case StepUpload:
		return fmt.Sprintf("failed to upload magnet: %v", e.Err)
	case StepFiles:
		return fmt.Sprintf("failed to list magnet files: %v", e.Err)
	case StepStatus:
		return fmt.Sprintf("failed to fetch magnet status: %v", e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
