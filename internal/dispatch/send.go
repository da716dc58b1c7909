package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/su1ph3r/stampede/pkg/types"
)

// send performs one network send and packages the result as an outcome.
// Never returns an error: every failure mode maps to an error kind.
func (s *Scheduler) send(ctx context.Context, prepared *types.PreparedRequest) types.Outcome {
	outcome := types.Outcome{
		StepID: prepared.StepID,
		Index:  prepared.Index,
	}

	reqCtx := ctx
	cancel := func() {}
	if s.cfg.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
	}
	defer cancel()

	var body io.Reader
	if len(prepared.Body) > 0 {
		body = bytes.NewReader(prepared.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, prepared.Method, prepared.URL, body)
	if err != nil {
		outcome.ErrKind = types.ErrKindBuild
		outcome.Err = err.Error()
		return outcome
	}

	for _, h := range prepared.Headers {
		switch strings.ToLower(h.Name) {
		case "host":
			req.Host = h.Value
		case "content-length":
			// Recomputed from the actual body.
		default:
			req.Header.Add(h.Name, h.Value)
		}
	}

	outcome.SentAt = time.Now()
	resp, err := s.client.Do(req)
	outcome.Elapsed = time.Since(outcome.SentAt)

	if err != nil {
		outcome.ErrKind, outcome.Err = classifySendError(ctx, err)
		s.log.Debug("send failed",
			"step", prepared.StepID,
			"index", prepared.Index,
			"kind", string(outcome.ErrKind),
			"error", outcome.Err)
		return outcome
	}
	defer resp.Body.Close()

	outcome.StatusCode = resp.StatusCode
	outcome.Headers = flattenHeaders(resp.Header)
	outcome.SetCookie = resp.Header.Values("Set-Cookie")
	outcome.BodySnippet, outcome.BodySize = readBody(resp.Body, s.cfg.BodyCap)

	return outcome
}

// classifySendError maps a transport error to an error kind. Run
// cancellation wins over the per-request deadline.
func classifySendError(runCtx context.Context, err error) (types.ErrKind, string) {
	if runCtx.Err() != nil && errors.Is(err, context.Canceled) {
		return types.ErrKindCancelled, err.Error()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.ErrKindTimeout, err.Error()
	}

	return types.ErrKindConnection, err.Error()
}

// readBody drains the response body, retaining at most limit bytes. The
// remainder is discarded but counted so BodySize reflects the full response
// and the connection can be reused.
func readBody(r io.Reader, limit int) (string, int64) {
	if limit <= 0 {
		n, _ := io.Copy(io.Discard, r)
		return "", n
	}

	buf := make([]byte, limit)
	n, _ := io.ReadFull(r, buf)
	rest, _ := io.Copy(io.Discard, r)
	return string(buf[:n]), int64(n) + rest
}

func flattenHeaders(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for name, values := range h {
		flat[name] = strings.Join(values, ", ")
	}
	return flat
}
