package props

// BoolField adapts a checkbox-typed input to the Field interface. Checkbox
// values serialize to the strings "true" and "false".
type BoolField struct {
	Checked  bool
	onInput  func(value string)
	onToggle func(checked bool)
}

// NewBoolField creates a checkbox adapter. onToggle, if non-nil, is invoked
// whenever the metadata side changes the checked state.
func NewBoolField(onToggle func(checked bool)) *BoolField {
	return &BoolField{onToggle: onToggle}
}

func (f *BoolField) Value() string {
	if f.Checked {
		return "true"
	}
	return "false"
}

func (f *BoolField) SetValue(value string) {
	f.Checked = value == "true"
	if f.onToggle != nil {
		f.onToggle(f.Checked)
	}
}

func (f *BoolField) OnInput(fn func(value string)) {
	f.onInput = fn
}

// Toggle reports a user click on the checkbox.
func (f *BoolField) Toggle(checked bool) {
	f.Checked = checked
	if f.onInput != nil {
		f.onInput(f.Value())
	}
}
