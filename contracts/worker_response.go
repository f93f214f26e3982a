package contracts

import (
	"strconv"
)

// StatusSuccess is the status value a worker reports when it handled the
// instruction.
const StatusSuccess = "0"

// WorkerResponse is the reply a worker sends back on the reply queue.
type WorkerResponse struct {
	ID        string
	Status    string
	Version   string
	Timestamp string
	CPU       string

	// Attributes holds every other attribute of the root element, such as
	// the "response" text of a remote control reply.
	Attributes map[string]string

	// Elements holds child elements, e.g. one <sensor> per attached sensor.
	Elements []ResponseElement
}

// ResponseElement is one child element of a worker response.
type ResponseElement struct {
	Name       string
	Attributes map[string]string
}

// Succeeded reports whether the worker flagged the instruction as handled.
func (r WorkerResponse) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Attribute returns an extra root attribute or "".
func (r WorkerResponse) Attribute(name string) string {
	return r.Attributes[name]
}

// CPUPercent parses the cpu attribute. ok is false when absent or malformed.
func (r WorkerResponse) CPUPercent() (float64, bool) {
	if r.CPU == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(r.CPU, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ElementsNamed filters child elements by name.
func (r WorkerResponse) ElementsNamed(name string) []ResponseElement {
	var out []ResponseElement
	for _, e := range r.Elements {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
