package formatting

import (
	"encoding/json"
	"io"

	"sigs.k8s.io/yaml"

	"conductor/internal/model"
	"conductor/internal/supervision"
)

// structuredFormatter writes entities as they are stored.
type structuredFormatter struct {
	marshal func(interface{}) ([]byte, error)
}

func marshalJSON(v interface{}) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// marshalYAML goes through the json tags so field names match the JSON form.
func marshalYAML(v interface{}) ([]byte, error) {
	return yaml.Marshal(v)
}

func (f *structuredFormatter) write(w io.Writer, v interface{}) error {
	b, err := f.marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func (f *structuredFormatter) Definitions(w io.Writer, defs []*model.Definition) error {
	return f.write(w, nonNil(defs))
}

func (f *structuredFormatter) Instances(w io.Writer, insts []*model.Instance) error {
	return f.write(w, nonNil(insts))
}

func (f *structuredFormatter) Elements(w io.Writer, inst *model.Instance) error {
	return f.write(w, inst)
}

func (f *structuredFormatter) Participants(w io.Writer, participants []*model.Participant) error {
	return f.write(w, nonNil(participants))
}

func (f *structuredFormatter) Metrics(w io.Writer, summary supervision.MetricsSummary) error {
	return f.write(w, summary)
}

// nonNil makes empty lists render as [] rather than null.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
