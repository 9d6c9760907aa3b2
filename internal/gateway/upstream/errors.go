package upstream

import "fmt"

// StatusError 控制面返回 >=400
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: control plane returned status %d", e.StatusCode)
}
