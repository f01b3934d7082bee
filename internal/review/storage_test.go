package review

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "files"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewLocalStorage", func() {
		It("should create the directory", func() {
			Expect(filepath.Join(tmpDir, "files")).To(BeADirectory())
		})
	})

	Describe("Save", func() {
		var (
			filename  string
			savedPath string
			err       error
		)

		BeforeEach(func() {
			filename = "test.pdf"
		})

		JustBeforeEach(func() {
			savedPath, err = storage.Save(filename, []byte("test file content"))
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the correct path", func() {
				Expect(savedPath).To(Equal(filename))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, "files", filename)).To(BeAnExistingFile())
			})
		})

		When("the name tries to leave the storage directory", func() {
			BeforeEach(func() {
				filename = "../escape.pdf"
			})

			It("should keep the file inside the directory", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedPath).To(Equal("escape.pdf"))
				Expect(filepath.Join(tmpDir, "escape.pdf")).NotTo(BeAnExistingFile())
				Expect(filepath.Join(tmpDir, "files", "escape.pdf")).To(BeAnExistingFile())
			})
		})

		When("the name is empty", func() {
			BeforeEach(func() {
				filename = ""
			})

			It("returns an error", func() {
				Expect(err).To(MatchError(ContainSubstring("invalid file name")))
			})
		})
	})

	Describe("Get", func() {
		var (
			filename string
			data     []byte
			err      error
		)

		JustBeforeEach(func() {
			data, err = storage.Get(filename)
		})

		When("file exists", func() {
			BeforeEach(func() {
				filename = "test.pdf"
				_, saveErr := storage.Save(filename, []byte("test file content"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should return the correct file data", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("test file content"))
			})
		})

		When("file does not exist", func() {
			BeforeEach(func() {
				filename = "nonexistent.pdf"
			})

			It("returns the error", func() {
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("reading file"))
			})
		})
	})

	Describe("Delete", func() {
		var (
			filename string
			err      error
		)

		JustBeforeEach(func() {
			err = storage.Delete(filename)
		})

		When("file exists", func() {
			BeforeEach(func() {
				filename = "test.pdf"
				_, saveErr := storage.Save(filename, []byte("x"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should remove the file", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(filepath.Join(tmpDir, "files", filename)).NotTo(BeAnExistingFile())
			})
		})

		When("file does not exist", func() {
			BeforeEach(func() {
				filename = "nonexistent.pdf"
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(ContainSubstring("deleting file")))
			})
		})
	})
})
