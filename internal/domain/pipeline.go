package domain

// Pipeline identifies a named, versioned processing graph registered with
// the service. The name is the business key; URI and version are required
// on registration but may be absent on objects supplied by clients that
// only need to reference a pipeline.
type Pipeline struct {
	Name    string  `json:"name" validate:"required"`
	URI     *string `json:"uri,omitempty" validate:"required"`
	Version *string `json:"version,omitempty" validate:"required"`
}

// ListPipelinesParams are AND-combined equality filters for pipeline
// listing. Nil means the filter is not applied.
type ListPipelinesParams struct {
	Name    *string
	URI     *string
	Version *string
}
