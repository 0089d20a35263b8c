package receipt

import (
	"context"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("LocalStorage", func() {
	var (
		ctx     context.Context
		tmpDir  string
		storage *LocalStorage
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir, "http://localhost:8080/")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name string
			key  string
			err  error
		)

		BeforeEach(func() {
			name = "1706792400000.jpg"
		})

		JustBeforeEach(func() {
			key, err = storage.Save(ctx, name, []byte("test file content"), "image/jpeg")
		})

		When("saving succeeds", func() {
			It("should return the name as key", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(key).To(Equal(name))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, name)).To(BeAnExistingFile())
			})
		})

		When("the name escapes the storage directory", func() {
			BeforeEach(func() {
				name = "../evil.jpg"
			})

			It("should return an error", func() {
				Expect(err).To(MatchError(ContainSubstring("invalid file name")))
			})
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			It("should return its content", func() {
				_, err := storage.Save(ctx, "a.jpg", []byte("abc"), "image/jpeg")
				Expect(err).NotTo(HaveOccurred())

				data, err := storage.Get(ctx, "a.jpg")
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte("abc")))
			})
		})

		When("the file does not exist", func() {
			It("should return an error", func() {
				_, err := storage.Get(ctx, "missing.jpg")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Delete", func() {
		It("should remove the file", func() {
			_, err := storage.Save(ctx, "a.jpg", []byte("abc"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete(ctx, "a.jpg")).To(Succeed())
			Expect(filepath.Join(tmpDir, "a.jpg")).NotTo(BeAnExistingFile())
		})
	})

	Describe("PublicURL", func() {
		It("should point at the files route", func() {
			Expect(storage.PublicURL("a.jpg")).To(Equal("http://localhost:8080/files/a.jpg"))
		})

		It("should round-trip through KeyFromURL", func() {
			key, ok := storage.KeyFromURL(storage.PublicURL("a.jpg"))
			Expect(ok).To(BeTrue())
			Expect(key).To(Equal("a.jpg"))
		})

		It("should reject foreign URLs", func() {
			_, ok := storage.KeyFromURL("https://example.com/a.jpg")
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("S3Storage", func() {
	var (
		ctx     context.Context
		server  *ghttp.Server
		storage *S3Storage
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = ghttp.NewServer()
		var err error
		storage, err = NewS3Storage(ctx, S3Config{
			Bucket:          "receipts",
			Region:          "us-east-1",
			Endpoint:        server.URL(),
			AccessKeyID:     "test",
			SecretAccessKey: "test",
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Save", func() {
		When("the bucket accepts the object", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPut, "/receipts/1706792400000.jpg"),
					ghttp.VerifyHeaderKV("Content-Type", "image/jpeg"),
					ghttp.RespondWith(http.StatusOK, nil),
				))
			})

			It("should upload with path-style addressing", func() {
				key, err := storage.Save(ctx, "1706792400000.jpg", []byte("jpeg"), "image/jpeg")
				Expect(err).NotTo(HaveOccurred())
				Expect(key).To(Equal("1706792400000.jpg"))
				Expect(server.ReceivedRequests()).To(HaveLen(1))
			})
		})

		When("the bucket rejects the object", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusForbidden,
					`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
			})

			It("should return an error", func() {
				_, err := storage.Save(ctx, "1.jpg", []byte("jpeg"), "image/jpeg")
				Expect(err).To(MatchError(ContainSubstring("uploading 1.jpg")))
			})
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodDelete, "/receipts/1.jpg"),
				ghttp.RespondWith(http.StatusNoContent, nil),
			))
		})

		It("should delete the object", func() {
			Expect(storage.Delete(ctx, "1.jpg")).To(Succeed())
		})
	})

	Describe("PublicURL", func() {
		It("should use the endpoint and bucket", func() {
			Expect(storage.PublicURL("1.jpg")).To(Equal(server.URL() + "/receipts/1.jpg"))
		})

		It("should round-trip through KeyFromURL", func() {
			key, ok := storage.KeyFromURL(storage.PublicURL("1.jpg"))
			Expect(ok).To(BeTrue())
			Expect(key).To(Equal("1.jpg"))
		})
	})
})
