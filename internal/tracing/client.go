package tracing

import (
	"github.com/go-resty/resty/v2"
)

// NewHTTPClient returns a resty client that opens a client span per
// outbound request and injects the propagation headers. The span is
// finished when the response (or transport error) arrives.
func NewHTTPClient(tracer *Tracer) *resty.Client {
	client := resty.New()

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		span, ctx := tracer.StartSpan(req.Context(), req.Method+" "+req.URL, WithKind(KindClient))
		span.SetTag("http.method", req.Method)
		span.SetTag("http.url", req.URL)

		if span.Sampled() {
			headers := make(map[string]string)
			Inject(span.Context(), headers)
			for k, v := range headers {
				req.SetHeader(k, v)
			}
		}

		req.SetContext(ctx)
		return nil
	})

	client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		if span, ok := SpanFromContext(resp.Request.Context()); ok {
			span.SetTag("http.status", resp.Status())
			if resp.IsError() {
				span.Finish(WithStatus(StatusError))
			} else {
				span.Finish()
			}
		}
		return nil
	})

	client.OnError(func(req *resty.Request, err error) {
		if span, ok := SpanFromContext(req.Context()); ok {
			span.Finish(WithError(err))
		}
	})

	return client
}
