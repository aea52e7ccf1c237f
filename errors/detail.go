package errors

// Detail is the serializable form of an error recorded in reports.
type Detail struct {
	Kind    Kind                   `json:"kind"`
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// DetailOf summarizes err. Context entries from every *Error in the chain
// are merged, outer errors taking precedence. It returns nil for a nil err.
func DetailOf(err error) *Detail {
	if err == nil {
		return nil
	}
	d := &Detail{
		Kind:    KindOf(err),
		Code:    CodeOf(err),
		Message: err.Error(),
	}
	for cur := err; cur != nil; {
		var e *Error
		if !As(cur, &e) {
			break
		}
		for k, v := range e.Context {
			if d.Context == nil {
				d.Context = make(map[string]interface{})
			}
			if _, seen := d.Context[k]; !seen {
				d.Context[k] = v
			}
		}
		cur = e.Err
	}
	return d
}
