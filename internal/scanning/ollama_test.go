package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-extract/internal/invoice"
)

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		scanner *Ollama
		doc     Document
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		scanner = NewOllama(server.URL()+"/", "llava:test", nil)
		doc = Document{Data: []byte("not really a png"), MediaType: invoice.MediaTypePNG}
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("NewOllama", func() {
		It("should apply defaults", func() {
			o := NewOllama("", "", nil)
			Expect(o.baseURL).To(Equal(DefaultOllamaURL))
			Expect(o.Model()).To(Equal(DefaultOllamaModel))
			Expect(o.client).NotTo(BeNil())
		})

		It("should trim the trailing slash", func() {
			Expect(scanner.baseURL).To(Equal(server.URL()))
		})
	})

	Describe("Scan", func() {
		When("the model answers", func() {
			var captured ollamaChatRequest

			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.CombineHandlers(
						ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
						ghttp.VerifyContentType("application/json"),
						func(w http.ResponseWriter, r *http.Request) {
							body, err := io.ReadAll(r.Body)
							Expect(err).NotTo(HaveOccurred())
							Expect(json.Unmarshal(body, &captured)).To(Succeed())
						},
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
							"message": map[string]string{"role": "assistant", "content": "  {\"vendor\":\"Telenor AS\"}\n"},
							"done":    true,
						}),
					),
				)
			})

			It("should return the trimmed reply", func() {
				text, err := scanner.Scan(context.Background(), doc)
				Expect(err).NotTo(HaveOccurred())
				Expect(text).To(Equal(`{"vendor":"Telenor AS"}`))
				Expect(server.ReceivedRequests()).To(HaveLen(1))
			})

			It("should send the image and the extraction prompt", func() {
				_, err := scanner.Scan(context.Background(), doc)
				Expect(err).NotTo(HaveOccurred())

				Expect(captured.Model).To(Equal("llava:test"))
				Expect(captured.Format).To(Equal("json"))
				Expect(captured.Stream).To(BeFalse())
				Expect(captured.Messages).To(HaveLen(2))
				Expect(captured.Messages[1].Content).To(Equal(extractionPrompt))
				Expect(captured.Messages[1].Images).To(ConsistOf(base64.StdEncoding.EncodeToString(doc.Data)))
			})
		})

		DescribeTable("error statuses",
			func(status int, want error) {
				server.AppendHandlers(
					ghttp.CombineHandlers(
						ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
						ghttp.RespondWith(status, "nope"),
					),
				)

				_, err := scanner.Scan(context.Background(), doc)
				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, want)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("nope"))
			},
			Entry("unauthorized", http.StatusUnauthorized, invoice.ErrAuthFailure),
			Entry("forbidden", http.StatusForbidden, invoice.ErrAuthFailure),
			Entry("bad request", http.StatusBadRequest, invoice.ErrRemoteRejection),
			Entry("model not found", http.StatusNotFound, invoice.ErrRemoteRejection),
			Entry("rate limited", http.StatusTooManyRequests, invoice.ErrRemoteRejection),
			Entry("server error", http.StatusInternalServerError, invoice.ErrTransportFailure),
			Entry("unavailable", http.StatusServiceUnavailable, invoice.ErrTransportFailure),
		)

		When("the response body is not JSON", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "<html>"))
			})

			It("should return a TransportFailure error", func() {
				_, err := scanner.Scan(context.Background(), doc)
				Expect(errors.Is(err, invoice.ErrTransportFailure)).To(BeTrue())
			})
		})

		When("the server cannot be reached", func() {
			It("should return a TransportFailure error", func() {
				server.Close()
				_, err := scanner.Scan(context.Background(), doc)
				Expect(errors.Is(err, invoice.ErrTransportFailure)).To(BeTrue())
			})
		})

		When("the context is already cancelled", func() {
			It("should return a TransportFailure error", func() {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				_, err := scanner.Scan(ctx, doc)
				Expect(errors.Is(err, invoice.ErrTransportFailure)).To(BeTrue())
			})
		})

		When("the document cannot be turned into an image", func() {
			It("should fail before calling the server", func() {
				doc = Document{Data: []byte("garbage"), MediaType: invoice.MediaTypeHEIC}
				_, err := scanner.Scan(context.Background(), doc)
				Expect(errors.Is(err, invoice.ErrUnsupportedMediaType)).To(BeTrue())
				Expect(server.ReceivedRequests()).To(BeEmpty())
			})
		})
	})

	Describe("ModelInfo", func() {
		It("should describe the model", func() {
			server.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/api/show"),
					ghttp.VerifyJSONRepresenting(map[string]string{"model": "llava:test"}),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
						"details": map[string]string{"family": "llama", "parameter_size": "7B"},
					}),
				),
			)

			info, err := scanner.ModelInfo(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Name).To(Equal("llava:test"))
			Expect(info.Description).To(Equal("llama 7B"))
		})
	})

	Describe("ListModels", func() {
		BeforeEach(func() {
			server.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/api/tags"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
						"models": []map[string]string{
							{"name": "llava:latest", "model": "llava:latest"},
							{"name": "qwen2-vl:7b", "model": "qwen2-vl:7b"},
						},
					}),
				),
			)
		})

		It("should filter by name", func() {
			models, err := scanner.ListModels(context.Background(), "LLAVA")
			Expect(err).NotTo(HaveOccurred())
			Expect(models).To(Equal([]ModelInfo{{Name: "llava:latest", DisplayName: "llava:latest"}}))
		})
	})

	Describe("Ping", func() {
		It("should return the reply", func() {
			server.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
						"message": map[string]string{"role": "assistant", "content": "pong"},
						"done":    true,
					}),
				),
			)

			reply, err := scanner.Ping(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(reply).To(Equal("pong"))
		})
	})
})
