package searchauthz

// ============================================================================
// REQUEST TYPES
// ============================================================================

// SearchRequest is a read request addressing one or more index expressions.
type SearchRequest struct {
	Indices []string
	Options IndicesOptions
	// MatchNone forces the request to execute without returning documents.
	MatchNone bool
}

func NewSearchRequest(indices ...string) *SearchRequest {
	return &SearchRequest{Indices: indices, Options: DefaultIndicesOptions}
}

// DocumentRequest addresses a single document in a single index, such as a
// get, index, update or delete.
type DocumentRequest struct {
	IndexName string
	ID        string
}

func (r *DocumentRequest) Index() string         { return r.IndexName }
func (r *DocumentRequest) SetIndex(index string) { r.IndexName = index }

// BulkItem is one operation of a bulk request.
type BulkItem struct {
	IndexName string
	Operation string
	ID        string
}

// BulkRequest carries many item operations, each with its own target index.
type BulkRequest struct {
	Items []BulkItem
}

func (r *BulkRequest) ItemIndices() []string {
	out := make([]string, len(r.Items))
	for i, item := range r.Items {
		out[i] = item.IndexName
	}
	return out
}

func (r *BulkRequest) SetItemIndex(i int, index string) {
	r.Items[i].IndexName = index
}

// RestoreRequest restores indices from a snapshot.
type RestoreRequest struct {
	Repository         string
	Snapshot           string
	Indices            []string
	IncludeGlobalState bool
}

func (r *RestoreRequest) RestoreIndices() []string  { return r.Indices }
func (r *RestoreRequest) IncludesGlobalState() bool { return r.IncludeGlobalState }

// AliasAction is one alias add/remove operation.
type AliasAction struct {
	Type      string
	IndexName string
	Alias     string
}

// AliasesRequest performs alias maintenance across indices.
type AliasesRequest struct {
	Actions []AliasAction
}

func (r *AliasesRequest) AliasTargetIndices() []string {
	out := make([]string, len(r.Actions))
	for i, a := range r.Actions {
		out[i] = a.IndexName
	}
	return out
}

func (r *AliasesRequest) SetAliasTargetIndex(i int, index string) {
	r.Actions[i].IndexName = index
}

// ============================================================================
// STANDARD INTROSPECTOR
// ============================================================================

// StandardIntrospector understands the request types of this package. Hosts
// with their own request model supply their own RequestIntrospector instead.
type StandardIntrospector struct{}

func (StandardIntrospector) ResolveTargets(request any, _ string) ([]string, IndicesOptions, bool) {
	switch req := request.(type) {
	case *SearchRequest:
		return req.Indices, req.Options, true
	case *DocumentRequest:
		return []string{req.IndexName}, IndicesOptions{}, true
	case *BulkRequest:
		return req.ItemIndices(), IndicesOptions{}, true
	case *AliasesRequest:
		return req.AliasTargetIndices(), IndicesOptions{}, true
	}
	return nil, IndicesOptions{}, false
}

func (StandardIntrospector) Reduce(request any, _ string, indices []string) bool {
	req, ok := request.(*SearchRequest)
	if !ok {
		// Requests that name their targets explicitly must not be shrunk
		// behind the caller's back.
		return false
	}
	req.Indices = append([]string(nil), indices...)
	req.MatchNone = len(indices) == 0
	return true
}

func (StandardIntrospector) ForceEmptyResult(request any, _ string) bool {
	req, ok := request.(*SearchRequest)
	if !ok {
		return false
	}
	req.Indices = nil
	req.MatchNone = true
	return true
}
