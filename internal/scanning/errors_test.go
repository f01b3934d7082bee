package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zombor/invoice-extract/internal/invoice"
)

func apiError(err error) error {
	apiErr, ok := apierror.FromError(err)
	Expect(ok).To(BeTrue())
	return apiErr
}

var _ = Describe("kindOf", func() {
	DescribeTable("classification",
		func(build func() error, want invoice.Kind) {
			Expect(kindOf(build())).To(Equal(want))
		},
		Entry("deadline", func() error { return context.DeadlineExceeded }, invoice.KindTransportFailure),
		Entry("wrapped cancel", func() error { return fmt.Errorf("calling: %w", context.Canceled) }, invoice.KindTransportFailure),
		Entry("blocked", func() error { return &genai.BlockedError{} }, invoice.KindRemoteRejection),
		Entry("http 401", func() error { return apiError(&googleapi.Error{Code: 401}) }, invoice.KindAuthFailure),
		Entry("http 403", func() error { return apiError(&googleapi.Error{Code: 403}) }, invoice.KindAuthFailure),
		Entry("http 400", func() error { return apiError(&googleapi.Error{Code: 400}) }, invoice.KindRemoteRejection),
		Entry("http 429", func() error { return apiError(&googleapi.Error{Code: 429}) }, invoice.KindRemoteRejection),
		Entry("http 503", func() error { return apiError(&googleapi.Error{Code: 503}) }, invoice.KindTransportFailure),
		Entry("bare googleapi 401", func() error { return &googleapi.Error{Code: 401} }, invoice.KindAuthFailure),
		Entry("grpc unauthenticated", func() error { return status.Error(codes.Unauthenticated, "no") }, invoice.KindAuthFailure),
		Entry("grpc permission denied", func() error { return status.Error(codes.PermissionDenied, "no") }, invoice.KindAuthFailure),
		Entry("grpc invalid argument", func() error { return status.Error(codes.InvalidArgument, "no") }, invoice.KindRemoteRejection),
		Entry("grpc resource exhausted", func() error { return status.Error(codes.ResourceExhausted, "no") }, invoice.KindRemoteRejection),
		Entry("grpc unavailable", func() error { return status.Error(codes.Unavailable, "no") }, invoice.KindTransportFailure),
		Entry("status 401", func() error { return &statusError{code: 401} }, invoice.KindAuthFailure),
		Entry("status 408", func() error { return &statusError{code: 408} }, invoice.KindTransportFailure),
		Entry("status 422", func() error { return &statusError{code: 422} }, invoice.KindRemoteRejection),
		Entry("dial failure", func() error {
			return &url.Error{Op: "Post", URL: "http://localhost:1", Err: errors.New("connection refused")}
		}, invoice.KindTransportFailure),
		Entry("anything else", func() error { return errors.New("boom") }, invoice.KindTransportFailure),
	)

	It("should keep the provider and cause in the classified error", func() {
		err := classify("gemini", &googleapi.Error{Code: 401, Message: "API key not valid"})
		Expect(errors.Is(err, invoice.ErrAuthFailure)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("gemini"))
		Expect(err.Error()).To(ContainSubstring("API key not valid"))

		var httpErr *googleapi.Error
		Expect(errors.As(err, &httpErr)).To(BeTrue())
	})
})

var _ = Describe("ProviderStatus", func() {
	DescribeTable("status of a classified error",
		func(cause error, want int) {
			Expect(ProviderStatus(classify("gemini", cause))).To(Equal(want))
		},
		Entry("googleapi 404", &googleapi.Error{Code: 404}, 404),
		Entry("bare googleapi 403", &googleapi.Error{Code: 403}, 403),
		Entry("grpc not found", status.Error(codes.NotFound, "no such model"), 404),
		Entry("grpc permission denied", status.Error(codes.PermissionDenied, "no"), 403),
		Entry("grpc unauthenticated", status.Error(codes.Unauthenticated, "no"), 401),
		Entry("grpc unavailable", status.Error(codes.Unavailable, "down"), 0),
		Entry("ollama 404", &statusError{code: 404, body: "model not found"}, 404),
		Entry("no answer", context.DeadlineExceeded, 0),
	)
})

var _ = Describe("CredentialSource", func() {
	It("should require one credential", func() {
		_, err := CredentialSource{}.ClientOptions()
		Expect(err).To(MatchError(ContainSubstring("required")))
	})

	It("should reject more than one credential", func() {
		_, err := CredentialSource{APIKey: "k", JSON: "{}"}.ClientOptions()
		Expect(err).To(MatchError(ContainSubstring("only one")))
	})

	It("should accept an API key", func() {
		creds := CredentialSource{APIKey: "k"}
		opts, err := creds.ClientOptions()
		Expect(err).NotTo(HaveOccurred())
		Expect(opts).To(HaveLen(1))
		Expect(creds.Mode()).To(Equal(CredentialModeAPIKey))
	})

	It("should require the credentials file to exist", func() {
		_, err := CredentialSource{File: filepath.Join(GinkgoT().TempDir(), "missing.json")}.ClientOptions()
		Expect(err).To(MatchError(ContainSubstring("credentials file")))
	})

	It("should accept an existing credentials file with scopes", func() {
		path := filepath.Join(GinkgoT().TempDir(), "sa.json")
		Expect(os.WriteFile(path, []byte(`{"type":"service_account"}`), 0600)).To(Succeed())

		creds := CredentialSource{File: path}
		opts, err := creds.ClientOptions()
		Expect(err).NotTo(HaveOccurred())
		Expect(opts).To(HaveLen(2))
		Expect(creds.Mode()).To(Equal(CredentialModeFile))
	})

	It("should reject credentials JSON that does not parse", func() {
		_, err := CredentialSource{JSON: "{not json"}.ClientOptions()
		Expect(err).To(MatchError(ContainSubstring("not valid JSON")))
	})

	It("should accept credentials JSON", func() {
		creds := CredentialSource{JSON: `{"type":"service_account"}`}
		opts, err := creds.ClientOptions()
		Expect(err).NotTo(HaveOccurred())
		Expect(opts).To(HaveLen(2))
		Expect(creds.Mode()).To(Equal(CredentialModeJSON))
	})

	It("should not create a client without credentials", func() {
		client, err := NewGeminiClient(context.Background(), CredentialSource{})
		Expect(err).To(HaveOccurred())
		Expect(client).To(BeNil())
	})

	Describe("Identity", func() {
		const serviceAccountJSON = `{"type":"service_account","project_id":"invoices-prod","client_email":"extractor@invoices-prod.iam.gserviceaccount.com"}`

		It("should report only the mode for an API key", func() {
			identity, err := CredentialSource{APIKey: "key"}.Identity()
			Expect(err).NotTo(HaveOccurred())
			Expect(identity).To(Equal(Identity{Mode: CredentialModeAPIKey}))
		})

		It("should read the service account from a file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "sa.json")
			Expect(os.WriteFile(path, []byte(serviceAccountJSON), 0600)).To(Succeed())

			identity, err := CredentialSource{File: path}.Identity()
			Expect(err).NotTo(HaveOccurred())
			Expect(identity).To(Equal(Identity{
				Mode:        CredentialModeFile,
				ProjectID:   "invoices-prod",
				ClientEmail: "extractor@invoices-prod.iam.gserviceaccount.com",
			}))
		})

		It("should read the service account from inline JSON", func() {
			identity, err := CredentialSource{JSON: serviceAccountJSON}.Identity()
			Expect(err).NotTo(HaveOccurred())
			Expect(identity.Mode).To(Equal(CredentialModeJSON))
			Expect(identity.ProjectID).To(Equal("invoices-prod"))
			Expect(identity.ClientEmail).To(Equal("extractor@invoices-prod.iam.gserviceaccount.com"))
		})

		It("should report none without credentials", func() {
			identity, err := CredentialSource{}.Identity()
			Expect(err).NotTo(HaveOccurred())
			Expect(identity.Mode).To(Equal(CredentialModeNone))
		})

		It("should fail on a missing file", func() {
			_, err := CredentialSource{File: filepath.Join(GinkgoT().TempDir(), "missing.json")}.Identity()
			Expect(err).To(MatchError(ContainSubstring("reading credentials file")))
		})

		It("should fail on JSON that does not parse", func() {
			_, err := CredentialSource{JSON: "{not json"}.Identity()
			Expect(err).To(MatchError(ContainSubstring("decoding credentials")))
		})
	})
})

var _ = Describe("imageForVision", func() {
	It("should pass PNG, JPEG and WebP through", func() {
		for _, mt := range []string{invoice.MediaTypePNG, invoice.MediaTypeJPEG, invoice.MediaTypeWebP} {
			data, err := imageForVision(Document{Data: []byte("pixels"), MediaType: mt})
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("pixels")))
		}
	})

	It("should reject HEIC bytes that do not decode", func() {
		_, err := imageForVision(Document{Data: []byte("garbage"), MediaType: invoice.MediaTypeHEIF})
		Expect(errors.Is(err, invoice.ErrUnsupportedMediaType)).To(BeTrue())
	})

	It("should reject other media types", func() {
		_, err := imageForVision(Document{Data: []byte("x"), MediaType: "text/plain"})
		Expect(errors.Is(err, invoice.ErrUnsupportedMediaType)).To(BeTrue())
	})
})

var _ = Describe("isHEICFormat", func() {
	DescribeTable("detection",
		func(data []byte, want bool) {
			Expect(isHEICFormat(data)).To(Equal(want))
		},
		Entry("heic brand", append([]byte{0, 0, 0, 24}, []byte("ftypheic")...), true),
		Entry("mif1 brand", append([]byte{0, 0, 0, 24}, []byte("ftypmif1")...), true),
		Entry("mp4 brand", append([]byte{0, 0, 0, 24}, []byte("ftypisom")...), false),
		Entry("too short", []byte("ftyp"), false),
		Entry("png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR"), false),
	)
})
