package model

// DeepCopy returns a copy of p that shares no maps with the receiver.
// Nested values are copied one level deep, which covers everything the
// runtime stores in properties.
func (p Properties) DeepCopy() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		switch tv := v.(type) {
		case map[string]interface{}:
			out[k] = Properties(tv).DeepCopy()
		case Properties:
			out[k] = tv.DeepCopy()
		case []interface{}:
			out[k] = append([]interface{}(nil), tv...)
		default:
			out[k] = v
		}
	}
	return out
}

// DeepCopy returns a copy of d that shares no maps with the receiver.
func (d *Definition) DeepCopy() *Definition {
	if d == nil {
		return nil
	}
	out := *d
	out.Elements = make(map[string]ElementDefinitionState, len(d.Elements))
	for k, el := range d.Elements {
		el.Properties = el.Properties.DeepCopy()
		el.OutProperties = el.OutProperties.DeepCopy()
		out.Elements[k] = el
	}
	return &out
}

// DeepCopy returns a copy of i that shares no maps with the receiver.
func (i *Instance) DeepCopy() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	out.Elements = make(map[string]ElementInstance, len(i.Elements))
	for k, el := range i.Elements {
		el.Properties = el.Properties.DeepCopy()
		el.OutProperties = el.OutProperties.DeepCopy()
		out.Elements[k] = el
	}
	return &out
}

// DeepCopy returns a copy of p.
func (p *Participant) DeepCopy() *Participant {
	if p == nil {
		return nil
	}
	out := *p
	out.SupportedElementTypes = append([]string(nil), p.SupportedElementTypes...)
	return &out
}
