package domain

// Clone returns a deep copy of the document. Collection fields of the copy
// are never nil, so the copy always encodes goals and goal children as arrays.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Metadata = d.Metadata.Clone()
	out.Goals = make([]Goal, len(d.Goals))
	for i, g := range d.Goals {
		out.Goals[i] = g.Clone()
	}
	if d.GlobalSettings != nil {
		gs := d.GlobalSettings.Clone()
		out.GlobalSettings = &gs
	}
	return &out
}

func (m Metadata) Clone() Metadata {
	m.Tags = cloneStrings(m.Tags)
	return m
}

func (s GlobalSettings) Clone() GlobalSettings {
	s.DefaultTimeoutMinutes = cloneInt(s.DefaultTimeoutMinutes)
	s.MaxParallelTasks = cloneInt(s.MaxParallelTasks)
	s.NotificationChannels = cloneStrings(s.NotificationChannels)
	s.Variables = cloneMap(s.Variables)
	return s
}

func (g Goal) Clone() Goal {
	out := g
	out.Constraints = make([]Constraint, len(g.Constraints))
	for i, c := range g.Constraints {
		out.Constraints[i] = c.Clone()
	}
	out.Policies = make([]Policy, len(g.Policies))
	for i, p := range g.Policies {
		out.Policies[i] = p.Clone()
	}
	out.Tasks = make([]Task, len(g.Tasks))
	for i, t := range g.Tasks {
		out.Tasks[i] = t.Clone()
	}
	out.Forms = make([]Form, len(g.Forms))
	for i, f := range g.Forms {
		out.Forms[i] = f.Clone()
	}
	return out
}

func (c Constraint) Clone() Constraint {
	if c.Threshold != nil {
		v := *c.Threshold
		c.Threshold = &v
	}
	return c
}

func (p Policy) Clone() Policy {
	p.If = p.If.Clone()
	p.Then.Params = cloneMap(p.Then.Params)
	return p
}

func (c Condition) Clone() Condition {
	c.Value = cloneValue(c.Value)
	c.AllOf = cloneConditions(c.AllOf)
	c.AnyOf = cloneConditions(c.AnyOf)
	return c
}

func cloneConditions(in []Condition) []Condition {
	if in == nil {
		return nil
	}
	out := make([]Condition, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

func (t Task) Clone() Task {
	t.Assignee.Capabilities = cloneStrings(t.Assignee.Capabilities)
	t.DependsOn = cloneStrings(t.DependsOn)
	t.TimeoutMinutes = cloneInt(t.TimeoutMinutes)
	t.Inputs = cloneStrings(t.Inputs)
	t.Outputs = cloneStrings(t.Outputs)
	return t
}

func (f Form) Clone() Form {
	if f.Fields != nil {
		fields := make([]FormField, len(f.Fields))
		for i, fld := range f.Fields {
			fld.Options = cloneStrings(fld.Options)
			fields[i] = fld
		}
		f.Fields = fields
	}
	f.Prompts = cloneStrings(f.Prompts)
	if f.Trigger != nil {
		tr := *f.Trigger
		f.Trigger = &tr
	}
	return f
}

// Normalize replaces nil child collections with empty ones.
func (g *Goal) Normalize() {
	if g.Constraints == nil {
		g.Constraints = []Constraint{}
	}
	if g.Policies == nil {
		g.Policies = []Policy{}
	}
	if g.Tasks == nil {
		g.Tasks = []Task{}
	}
	if g.Forms == nil {
		g.Forms = []Form{}
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneInt(in *int) *int {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the container shapes produced by encoding/json.
func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return cloneStrings(typed)
	default:
		return v
	}
}
