//go:build !unix

package agentd

import "errors"

var errUnsupported = errors.New("benchmark process control requires a unix host")

type OSProcesses struct{}

func NewOSProcesses() Processes {
	return OSProcesses{}
}

func (OSProcesses) Start(LaunchRequest) (int, error) { return 0, errUnsupported }

func (OSProcesses) Signal(int, Signal) error { return errUnsupported }

func (OSProcesses) Alive(int) bool { return false }
