package serialization

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/abaland/Home-Code/contracts"
)

const (
	instructionElement = "instruction"
	workerElement      = "worker"
)

// ContentType is set on every published instruction.
const ContentType = "application/xml"

// EncodeInstruction renders in as a single self-closing element. Attribute
// order is fixed so the output is deterministic. Values are written as is.
// The value attribute is written whenever a field is named, even when the
// value is empty, so DecodeInstruction(EncodeInstruction(in)) equals
// in.Normalize().
func EncodeInstruction(in contracts.Instruction) []byte {
	var b strings.Builder
	b.WriteString("<" + instructionElement)
	writeAttr(&b, "type", in.Type)
	if in.Target != "" {
		writeAttr(&b, "target", in.Target)
	}
	if in.Remote != "" {
		writeAttr(&b, "remote", in.Remote)
	}
	if in.ValueField != "" || in.Value != "" {
		writeAttr(&b, string(in.Field()), in.Value)
	}
	b.WriteString("/>")
	return []byte(b.String())
}

// DecodeInstruction parses a payload produced by EncodeInstruction.
func DecodeInstruction(payload []byte) (contracts.Instruction, error) {
	root, err := parseDocument(instructionElement, payload, 0)
	if err != nil {
		return contracts.Instruction{}, err
	}
	if root.name != instructionElement {
		return contracts.Instruction{}, parseErr(instructionElement, "unexpected root element <"+root.name+">")
	}

	var in contracts.Instruction
	for _, attr := range root.attrs {
		switch attr.Name.Local {
		case "type":
			in.Type = attr.Value
		case "target":
			in.Target = attr.Value
		case "remote":
			in.Remote = attr.Value
		case string(contracts.FieldConfig), string(contracts.FieldButton):
			if in.ValueField != "" {
				return contracts.Instruction{}, parseErr(instructionElement, "config and button are mutually exclusive")
			}
			in.ValueField = contracts.FieldName(attr.Name.Local)
			in.Value = attr.Value
		default:
			return contracts.Instruction{}, parseErr(instructionElement, "unknown attribute "+attr.Name.Local)
		}
	}
	if in.Type == "" {
		return contracts.Instruction{}, parseErr(instructionElement, "missing type")
	}
	return in, nil
}

// EncodeWorkerResponse renders resp the way workers do. Extra attributes and
// child attributes are sorted by name.
func EncodeWorkerResponse(resp contracts.WorkerResponse) []byte {
	var b strings.Builder
	b.WriteString("<" + workerElement)
	writeAttr(&b, "id", resp.ID)
	for _, kv := range [][2]string{
		{"status", resp.Status},
		{"version", resp.Version},
		{"timestamp", resp.Timestamp},
		{"cpu", resp.CPU},
	} {
		if kv[1] != "" {
			writeAttr(&b, kv[0], kv[1])
		}
	}
	writeSortedAttrs(&b, resp.Attributes)

	if len(resp.Elements) == 0 {
		b.WriteString("/>")
		return []byte(b.String())
	}
	b.WriteString(">")
	for _, el := range resp.Elements {
		b.WriteString("<" + el.Name)
		writeSortedAttrs(&b, el.Attributes)
		b.WriteString("/>")
	}
	b.WriteString("</" + workerElement + ">")
	return []byte(b.String())
}

// DecodeWorkerResponse parses a reply from a worker. The root must be a
// <worker> element with an id; children may not nest further.
func DecodeWorkerResponse(payload []byte) (contracts.WorkerResponse, error) {
	root, err := parseDocument(workerElement, payload, 1)
	if err != nil {
		return contracts.WorkerResponse{}, err
	}
	if root.name != workerElement {
		return contracts.WorkerResponse{}, parseErr(workerElement, "unexpected root element <"+root.name+">")
	}

	var resp contracts.WorkerResponse
	for _, attr := range root.attrs {
		switch attr.Name.Local {
		case "id":
			resp.ID = attr.Value
		case "status":
			resp.Status = attr.Value
		case "version":
			resp.Version = attr.Value
		case "timestamp":
			resp.Timestamp = attr.Value
		case "cpu":
			resp.CPU = attr.Value
		default:
			if resp.Attributes == nil {
				resp.Attributes = make(map[string]string)
			}
			resp.Attributes[attr.Name.Local] = attr.Value
		}
	}
	if resp.ID == "" {
		return contracts.WorkerResponse{}, parseErr(workerElement, "missing id")
	}

	for _, child := range root.children {
		el := contracts.ResponseElement{Name: child.name}
		if len(child.attrs) > 0 {
			el.Attributes = make(map[string]string, len(child.attrs))
			for _, attr := range child.attrs {
				el.Attributes[attr.Name.Local] = attr.Value
			}
		}
		resp.Elements = append(resp.Elements, el)
	}
	return resp, nil
}

type element struct {
	name     string
	attrs    []xml.Attr
	children []element
}

// parseDocument reads exactly one root element. maxDepth bounds how many
// levels of children are accepted below the root.
func parseDocument(kind string, payload []byte, maxDepth int) (element, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return element{}, parseErr(kind, "empty payload")
	}

	dec := xml.NewDecoder(bytes.NewReader(payload))
	dec.Strict = true

	var (
		root  *element
		stack []*element
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return element{}, &contracts.ParseError{Kind: kind, Reason: "invalid xml", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return element{}, parseErr(kind, "content after root element")
			}
			if len(stack) > maxDepth {
				return element{}, parseErr(kind, "unexpected nested element <"+t.Name.Local+">")
			}
			if err := checkDuplicateAttrs(kind, t.Attr); err != nil {
				return element{}, err
			}
			el := element{name: t.Name.Local, attrs: append([]xml.Attr(nil), t.Attr...)}
			if root == nil {
				root = &el
				stack = append(stack, root)
				continue
			}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, el)
			stack = append(stack, &parent.children[len(parent.children)-1])

		case xml.EndElement:
			stack = stack[:len(stack)-1]

		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return element{}, parseErr(kind, "unexpected text content")
			}
		}
	}

	if root == nil {
		return element{}, parseErr(kind, "no root element")
	}
	return *root, nil
}

func checkDuplicateAttrs(kind string, attrs []xml.Attr) error {
	seen := make(map[string]struct{}, len(attrs))
	for _, attr := range attrs {
		if _, ok := seen[attr.Name.Local]; ok {
			return parseErr(kind, "duplicate attribute "+attr.Name.Local)
		}
		seen[attr.Name.Local] = struct{}{}
	}
	return nil
}

func writeAttr(b *strings.Builder, name, value string) {
	b.WriteString(" " + name + "=\"" + value + "\"")
}

func writeSortedAttrs(b *strings.Builder, attrs map[string]string) {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeAttr(b, name, attrs[name])
	}
}

func parseErr(kind, reason string) error {
	return &contracts.ParseError{Kind: kind, Reason: reason}
}
