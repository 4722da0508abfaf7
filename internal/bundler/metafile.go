package bundler

// Metafile is the subset of esbuild's metafile JSON used to map outputs back
// to their entry points.
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

// MetafileInput represents an input file in the metafile
type MetafileInput struct {
	Bytes int `json:"bytes"`
}

// MetafileOutput represents an output file in the metafile
type MetafileOutput struct {
	Bytes      int    `json:"bytes"`
	EntryPoint string `json:"entryPoint,omitempty"`
}
