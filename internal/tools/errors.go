package tools

import "errors"

// Provisioning failure kinds, matched with errors.Is.
var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrDownloadFailed      = errors.New("download failed")
	ErrExtractFailed       = errors.New("extract failed")
)

// ProvisionError reports why the download tool could not be made ready.
type ProvisionError struct {
	Kind error
	Path string
	Err  error
}

func (e *ProvisionError) Error() string {
	msg := "provisioning: " + e.Kind.Error()
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProvisionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
