package dao

type Parameter struct {
	Name  string
	Value interface{}
}

func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}

// Matches reports whether the supplied attribute value satisfies the
// parameter. A string value matches on equality; a string slice matches when
// it contains the attribute.
func (p *Parameter) Matches(attribute string) bool {
	switch expected := p.Value.(type) {
	case string:
		return attribute == expected
	case []string:
		for _, candidate := range expected {
			if attribute == candidate {
				return true
			}
		}
		return false
	}
	return true
}
