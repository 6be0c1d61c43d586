package marketing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adforge/adsengine/internal/apierrors"
	"github.com/adforge/adsengine/internal/metrics"
)

// MaxBatchSize is the platform's hard ceiling on logical operations per
// physical batch request.
const MaxBatchSize = 50

// Batch validation errors.
var (
	ErrNoOperations  = errors.New("batch has no operations")
	ErrBatchTooLarge = fmt.Errorf("batch exceeds the %d-operation ceiling", MaxBatchSize)
	ErrMissingToken  = errors.New("batch requires an access token")
)

// BatchOperation is one logical operation inside a batch request, in wire
// format.
type BatchOperation struct {
	Method        string `json:"method"`
	RelativeURL   string `json:"relative_url"`
	Body          string `json:"body,omitempty"`
	Name          string `json:"name,omitempty"`
	AttachedFiles string `json:"attached_files,omitempty"`
}

// NewBatchOperation starts building a batch operation.
func NewBatchOperation(method, relativeURL string) *BatchOperation {
	return &BatchOperation{
		Method:      strings.ToUpper(method),
		RelativeURL: strings.TrimPrefix(relativeURL, "/"),
	}
}

// WithBody form-encodes the values as the operation body. Write methods in a
// batch carry form-encoded bodies on the wire.
func (op *BatchOperation) WithBody(values url.Values) *BatchOperation {
	op.Body = values.Encode()
	return op
}

// WithName names the operation so later operations in the same request can
// reference its result.
func (op *BatchOperation) WithName(name string) *BatchOperation {
	op.Name = name
	return op
}

// WithAttachedFiles references binary attachments by the field names they
// are uploaded under.
func (op *BatchOperation) WithAttachedFiles(names ...string) *BatchOperation {
	op.AttachedFiles = strings.Join(names, ",")
	return op
}

// WithAccessToken gives this operation its own credential, appended as a
// query parameter so a single physical request can mix credentials.
func (op *BatchOperation) WithAccessToken(token string) *BatchOperation {
	sep := "?"
	if strings.Contains(op.RelativeURL, "?") {
		sep = "&"
	}
	op.RelativeURL += sep + "access_token=" + url.QueryEscape(token)
	return op
}

// ResultRef builds the textual back-reference to a named earlier operation's
// result field. The platform resolves it server-side; callers must never
// hand-construct the literal string.
func ResultRef(opName, field string) string {
	return "{result=" + opName + ":$." + field + "}"
}

// batchItem mirrors one element of the platform's batch response array. The
// element itself may be null when the operation timed out.
type batchItem struct {
	Code *int            `json:"code"`
	Body string          `json:"body"`
	Hdrs json.RawMessage `json:"headers"`
}

// ExecuteBatch issues one physical batch request for up to MaxBatchSize
// operations. Operations without a name are assigned a unique one, since the
// back-reference convention requires names to be unique within a request.
// Binary attachments are keyed by the field name operations reference via
// WithAttachedFiles.
func (c *Client) ExecuteBatch(ctx context.Context, ops []*BatchOperation, binary map[string][]byte) ([]BatchResult, error) {
	if len(ops) == 0 {
		return nil, ErrNoOperations
	}
	if len(ops) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}
	if c.config.AccessToken == "" {
		return nil, ErrMissingToken
	}
	if err := ensureUniqueNames(ops); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	headers := c.defaultHeaders()
	var body *bytes.Buffer

	if len(binary) > 0 {
		body = &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		if err := writer.WriteField("batch", string(payload)); err != nil {
			return nil, fmt.Errorf("write batch field: %w", err)
		}
		if err := writer.WriteField("include_headers", "false"); err != nil {
			return nil, fmt.Errorf("write include_headers field: %w", err)
		}
		for name, data := range binary {
			part, err := writer.CreateFormFile(name, name)
			if err != nil {
				return nil, fmt.Errorf("create attachment %s: %w", name, err)
			}
			if _, err := part.Write(data); err != nil {
				return nil, fmt.Errorf("write attachment %s: %w", name, err)
			}
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("finalize multipart body: %w", err)
		}
		headers.Set("Content-Type", writer.FormDataContentType())
	} else {
		form := url.Values{
			"batch":           {string(payload)},
			"include_headers": {"false"},
		}
		body = bytes.NewBufferString(form.Encode())
		headers.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.transport.Send(ctx, http.MethodPost, c.baseURL, headers, body)
	if err != nil {
		return nil, err
	}
	metrics.RecordBatchChunk()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if apiErr := parseAPIError("batch_execute", resp.StatusCode, resp.Body); apiErr != nil {
			return nil, apiErr
		}
	}

	var items []*batchItem
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		// The platform answers a batch with a positional array; anything
		// else means the contract is broken and retrying cannot help.
		return nil, &apierrors.APIError{
			Category:   apierrors.CategoryRejected,
			Op:         "batch_execute",
			StatusCode: resp.StatusCode,
			Message:    "batch response is not an array",
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	results := make([]BatchResult, len(ops))
	for i := range ops {
		results[i] = normalizeItem(i, itemAt(items, i))
	}

	log.Debug().
		Int("operations", len(ops)).
		Int("attachments", len(binary)).
		Msg("Batch chunk executed")

	return results, nil
}

func itemAt(items []*batchItem, i int) *batchItem {
	if i >= len(items) {
		return nil
	}
	return items[i]
}

// normalizeItem turns one positional response element into a BatchResult. A
// null element or a missing status code means the platform timed the
// operation out, which is distinct from a hard failure because the write may
// still have been applied.
func normalizeItem(index int, item *batchItem) BatchResult {
	result := BatchResult{Index: index}

	if item == nil || item.Code == nil {
		result.TimedOut = true
		return result
	}

	result.StatusCode = *item.Code
	result.Body = item.Body

	var envelope errorEnvelope
	if item.Body != "" {
		_ = json.Unmarshal([]byte(item.Body), &envelope)
	}
	result.Error = envelope.Error

	result.Success = result.StatusCode >= 200 && result.StatusCode < 300 && result.Error == nil
	return result
}

func ensureUniqueNames(ops []*BatchOperation) error {
	seen := make(map[string]struct{}, len(ops))
	for i, op := range ops {
		if op.Name == "" {
			op.Name = fmt.Sprintf("op%d", i)
		}
		if _, dup := seen[op.Name]; dup {
			return fmt.Errorf("duplicate batch operation name %q", op.Name)
		}
		seen[op.Name] = struct{}{}
	}
	return nil
}

// ExecuteBatchChunked splits the operations into consecutive chunks of
// MaxBatchSize and executes them strictly sequentially, never concurrently:
// quota usage is only observed between physical calls, and racing chunks
// would defeat the tracking the engine exists for. Results keep their
// original indices. A failing chunk aborts the remainder but the results of
// earlier chunks are returned alongside the error.
func (c *Client) ExecuteBatchChunked(ctx context.Context, ops []*BatchOperation, binary map[string][]byte) ([]BatchResult, error) {
	if len(ops) == 0 {
		return nil, ErrNoOperations
	}

	var results []BatchResult
	for offset := 0; offset < len(ops); offset += MaxBatchSize {
		end := offset + MaxBatchSize
		if end > len(ops) {
			end = len(ops)
		}
		chunk := ops[offset:end]

		chunkResults, err := c.ExecuteBatch(ctx, chunk, binaryForChunk(chunk, binary))
		for i := range chunkResults {
			chunkResults[i].Index += offset
		}
		results = append(results, chunkResults...)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// binaryForChunk narrows the attachment map to the files the chunk's
// operations actually reference.
func binaryForChunk(chunk []*BatchOperation, binary map[string][]byte) map[string][]byte {
	if len(binary) == 0 {
		return nil
	}
	needed := make(map[string][]byte)
	for _, op := range chunk {
		if op.AttachedFiles == "" {
			continue
		}
		for _, name := range strings.Split(op.AttachedFiles, ",") {
			if data, ok := binary[name]; ok {
				needed[name] = data
			}
		}
	}
	if len(needed) == 0 {
		return nil
	}
	return needed
}

// RetryFailedBatch re-executes only the hard failures from a previous run.
// Timed-out operations are excluded: their writes may have been applied, and
// repeating them risks duplicate side effects. Returned results carry the
// operation's original index so callers can merge them back.
func (c *Client) RetryFailedBatch(ctx context.Context, previous []BatchResult, ops []*BatchOperation) ([]BatchResult, error) {
	var retryOps []*BatchOperation
	var originalIndex []int
	for _, res := range previous {
		if res.Success || res.TimedOut {
			continue
		}
		if res.Index < 0 || res.Index >= len(ops) {
			return nil, fmt.Errorf("result index %d has no matching operation", res.Index)
		}
		retryOps = append(retryOps, ops[res.Index])
		originalIndex = append(originalIndex, res.Index)
	}

	if len(retryOps) == 0 {
		return nil, nil
	}

	log.Debug().Int("operations", len(retryOps)).Msg("Retrying hard-failed batch operations")

	results, err := c.ExecuteBatchChunked(ctx, retryOps, nil)
	for i := range results {
		results[i].Index = originalIndex[results[i].Index]
	}
	return results, err
}
