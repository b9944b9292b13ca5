/*
	Copyright NetFoundry, Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package extensions

import (
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/openziti/xpolicy"
	"github.com/pkg/errors"
)

const CompressionBinding = "compression"

// CompressionFactory creates the `compression` extension, brotli encoding responses for clients that accept `br`.
// Extension options:
//
//	level:   brotli quality, 0 to 11 (brotli.DefaultCompression)
//	default: whether routes without a `compression` option are compressed (false)
type CompressionFactory struct{}

func NewCompressionFactory() *CompressionFactory {
	return &CompressionFactory{}
}

func (factory *CompressionFactory) Binding() string {
	return CompressionBinding
}

func (factory *CompressionFactory) Validate(*xpolicy.InstanceConfig) error {
	return nil
}

type compressionOptions struct {
	Level   int  `mapstructure:"level"`
	Default bool `mapstructure:"default"`
}

func (factory *CompressionFactory) New(options map[string]interface{}, _ *xpolicy.InstanceConfig) (xpolicy.Extension, error) {
	parsed := compressionOptions{Level: brotli.DefaultCompression}
	if err := decode(options, &parsed); err != nil {
		return nil, errors.Wrap(err, "could not decode compression options")
	}
	if parsed.Level < brotli.BestSpeed || parsed.Level > brotli.BestCompression {
		return nil, errors.Errorf("level must be between %d and %d, got %d", brotli.BestSpeed, brotli.BestCompression, parsed.Level)
	}

	return &CompressionExtension{options: parsed}, nil
}

type CompressionExtension struct {
	options compressionOptions
}

func (extension *CompressionExtension) Binding() string {
	return CompressionBinding
}

func (extension *CompressionExtension) AppliesTo(_ string, _ []string, config xpolicy.RouteConfig) bool {
	_, present, enabled := routeToggle(config, CompressionBinding)
	if !present {
		return extension.options.Default
	}
	return enabled
}

func (extension *CompressionExtension) Middleware(xpolicy.RouteConfig) (xpolicy.Contribution, error) {
	level := extension.options.Level

	return xpolicy.Contribute(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.Header().Add("Vary", "Accept-Encoding")
			if !acceptsBrotli(request.Header.Get("Accept-Encoding")) {
				next.ServeHTTP(writer, request)
				return
			}

			compressed := &brotliWriter{ResponseWriter: writer, level: level}
			defer compressed.Close()
			next.ServeHTTP(compressed, request)
		})
	}), nil
}

func acceptsBrotli(acceptEncoding string) bool {
	for _, part := range strings.Split(acceptEncoding, ",") {
		fields := strings.Split(part, ";")
		if strings.TrimSpace(strings.ToLower(fields[0])) != "br" {
			continue
		}
		for _, param := range fields[1:] {
			if q := strings.ReplaceAll(strings.TrimSpace(param), " ", ""); q == "q=0" || q == "q=0.0" {
				return false
			}
		}
		return true
	}
	return false
}

// brotliWriter starts encoding on the first write, unless the handler already set its own Content-Encoding.
type brotliWriter struct {
	http.ResponseWriter
	level       int
	encoder     *brotli.Writer
	passthrough bool
	wroteHeader bool
}

func (w *brotliWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	header := w.ResponseWriter.Header()
	if header.Get("Content-Encoding") != "" || status == http.StatusNoContent || status == http.StatusNotModified {
		w.passthrough = true
	} else {
		header.Set("Content-Encoding", "br")
		header.Del("Content-Length")
		w.encoder = brotli.NewWriterLevel(w.ResponseWriter, w.level)
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *brotliWriter) Write(data []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.passthrough {
		return w.ResponseWriter.Write(data)
	}
	return w.encoder.Write(data)
}

func (w *brotliWriter) Flush() {
	if w.encoder != nil {
		_ = w.encoder.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *brotliWriter) Close() {
	if w.encoder != nil {
		_ = w.encoder.Close()
	}
}

func (w *brotliWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
