package document

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"

	"github.com/zombor/doc-ledger/internal/classify"
	"github.com/zombor/doc-ledger/internal/extraction"
	"github.com/zombor/doc-ledger/internal/storage"
)

func amount(f float64) *float64 {
	return &f
}

var _ = Describe("BoltRepository", func() {
	var (
		db    *bbolt.DB
		clock *mockTimeSource
		repo  *BoltRepository
	)

	BeforeEach(func() {
		var err error
		db, err = storage.OpenBolt(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
		clock = &mockTimeSource{now: time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)}
		repo, err = NewBoltRepositoryWithDeps(db, &mockIDGenerator{prefix: "doc"}, clock)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		db.Close()
	})

	add := func(supplier string, processedAt time.Time) *Document {
		clock.now = processedAt
		doc, err := repo.Add(NewDocument{
			Filename:      supplier + ".pdf",
			ExtractedData: extraction.Record{Supplier: supplier, Confidence: 0.5},
		})
		Expect(err).NotTo(HaveOccurred())
		return doc
	}

	Describe("Add", func() {
		It("should assign an id and defaults", func() {
			doc, err := repo.Add(NewDocument{Filename: "facture.pdf", ContentType: "application/pdf"})
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.ID).To(Equal("doc-1"))
			Expect(doc.ProcessedAt).To(Equal(clock.now))
			Expect(doc.IsEdited).To(BeFalse())
			Expect(doc.Tags).To(BeEmpty())
			Expect(doc.Tags).NotTo(BeNil())
		})

		It("should persist the document", func() {
			doc := add("ACME", clock.now)
			stored, err := repo.Get(doc.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ExtractedData.Supplier).To(Equal("ACME"))
			Expect(stored.Filename).To(Equal("ACME.pdf"))
		})
	})

	Describe("Get", func() {
		It("returns not found for an unknown id", func() {
			_, err := repo.Get("missing")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("Update", func() {
		var doc *Document

		BeforeEach(func() {
			doc = add("ACME", clock.now)
		})

		When("extracted data is part of the patch", func() {
			var updated *Document

			BeforeEach(func() {
				clock.now = clock.now.Add(time.Hour)
				var err error
				updated, err = repo.Update(doc.ID, Patch{
					ExtractedData: &extraction.Record{Supplier: "ACME Corp", Amount: amount(100), Confidence: 0.2},
				})
				Expect(err).NotTo(HaveOccurred())
			})

			It("should mark the document as edited", func() {
				Expect(updated.IsEdited).To(BeTrue())
				Expect(*updated.LastEditedAt).To(Equal(clock.now))
			})

			It("should give the data manual confidence", func() {
				Expect(updated.ExtractedData.Confidence).To(Equal(extraction.ManualConfidence))
			})

			It("should bump the revision", func() {
				Expect(updated.Revision).To(Equal(doc.Revision + 1))
			})

			It("should keep the edit flags through later patches without data", func() {
				editedAt := *updated.LastEditedAt
				clock.now = clock.now.Add(time.Hour)
				name := "renamed.pdf"
				later, err := repo.Update(doc.ID, Patch{Filename: &name, Tags: []string{"q1"}})
				Expect(err).NotTo(HaveOccurred())
				Expect(later.IsEdited).To(BeTrue())
				Expect(*later.LastEditedAt).To(Equal(editedAt))
				Expect(later.ExtractedData.Confidence).To(Equal(extraction.ManualConfidence))
			})
		})

		When("the patch carries no extracted data", func() {
			It("should keep heuristic confidence and no edit timestamp", func() {
				name := "renamed.pdf"
				updated, err := repo.Update(doc.ID, Patch{Filename: &name})
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.Filename).To(Equal(name))
				Expect(updated.IsEdited).To(BeFalse())
				Expect(updated.LastEditedAt).To(BeNil())
				Expect(updated.ExtractedData.Confidence).To(BeNumerically("<", extraction.ManualConfidence))
			})
		})

		When("only the account changes", func() {
			It("should leave the edit flags alone", func() {
				updated, err := repo.Update(doc.ID, Patch{SelectedAccount: &classify.Account{Code: "613"}})
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.SelectedAccount.Code).To(Equal("613"))
				Expect(updated.IsEdited).To(BeFalse())
				Expect(updated.LastEditedAt).To(BeNil())
				Expect(updated.ExtractedData.Confidence).To(Equal(0.5))
			})
		})

		When("tags are replaced", func() {
			It("should drop duplicates and blanks", func() {
				updated, err := repo.Update(doc.ID, Patch{Tags: []string{"a", " b ", "a", ""}})
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.Tags).To(Equal([]string{"a", "b"}))
			})
		})

		When("the document does not exist", func() {
			It("returns not found", func() {
				_, err := repo.Update("missing", Patch{})
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("Delete", func() {
		It("should report whether a document was removed", func() {
			doc := add("ACME", clock.now)

			deleted, err := repo.Delete(doc.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeTrue())

			deleted, err = repo.Delete(doc.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeFalse())
		})
	})

	Describe("Search", func() {
		var (
			march, april, may time.Time
			acme, globex, ini *Document
		)

		BeforeEach(func() {
			march = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
			april = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
			may = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
			acme = add("ACME Corp", march)
			globex = add("Globex", april)
			ini = add("Initech", may)

			var err error
			_, err = repo.Update(acme.ID, Patch{ExtractedData: &extraction.Record{Supplier: "ACME Corp", Amount: amount(1250.5), Label: "Fournitures de bureau"}})
			Expect(err).NotTo(HaveOccurred())
			_, err = repo.Update(globex.ID, Patch{SelectedAccount: &classify.Account{Code: "613"}})
			Expect(err).NotTo(HaveOccurred())
			_, err = repo.AddTag(ini.ID, "urgent")
			Expect(err).NotTo(HaveOccurred())
		})

		ids := func(docs []*Document) []string {
			out := make([]string, 0, len(docs))
			for _, d := range docs {
				out = append(out, d.ID)
			}
			return out
		}

		It("should return everything newest first without a filter", func() {
			docs, err := repo.Search(Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(docs)).To(Equal([]string{ini.ID, globex.ID, acme.ID}))
		})

		It("should match a supplier substring case-insensitively", func() {
			docs, err := repo.Search(Filter{Supplier: "acme"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(docs)).To(Equal([]string{acme.ID}))
		})

		It("should include both date bounds", func() {
			docs, err := repo.Search(Filter{From: &march, To: &april})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(docs)).To(Equal([]string{globex.ID, acme.ID}))
		})

		It("should filter by amount range and skip documents without amount", func() {
			docs, err := repo.Search(Filter{MinAmount: amount(1250.5), MaxAmount: amount(1250.5)})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(docs)).To(Equal([]string{acme.ID}))
		})

		It("should filter by account code", func() {
			docs, err := repo.Search(Filter{AccountCode: "613"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(docs)).To(Equal([]string{globex.ID}))
		})

		It("should filter by edit state", func() {
			edited := true
			docs, err := repo.Search(Filter{IsEdited: &edited})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(docs)).To(Equal([]string{acme.ID}))
		})

		It("should match any requested tag", func() {
			docs, err := repo.Search(Filter{Tags: []string{"other", "urgent"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(docs)).To(Equal([]string{ini.ID}))
		})

		It("should search free text across fields", func() {
			docs, err := repo.Search(Filter{Query: "BUREAU"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(docs)).To(Equal([]string{acme.ID}))

			docs, err = repo.Search(Filter{Query: "globex.pdf"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(docs)).To(Equal([]string{globex.ID}))
		})

		It("should combine predicates", func() {
			docs, err := repo.Search(Filter{Supplier: "acme", AccountCode: "613"})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(BeEmpty())
		})

		It("should apply offset then limit", func() {
			offset, limit := 1, 1
			docs, err := repo.Search(Filter{Offset: &offset, Limit: &limit})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(docs)).To(Equal([]string{globex.ID}))
		})

		It("should stop finding a deleted document", func() {
			docs, err := repo.Search(Filter{Supplier: "ACME Corp", From: &march, To: &march})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(docs)).To(Equal([]string{acme.ID}))

			_, err = repo.Delete(acme.ID)
			Expect(err).NotTo(HaveOccurred())

			docs, err = repo.Search(Filter{Supplier: "ACME Corp", From: &march, To: &march})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(BeEmpty())
		})
	})

	Describe("Statistics", func() {
		When("there are no documents", func() {
			It("should return zeroes", func() {
				stats, err := repo.Statistics()
				Expect(err).NotTo(HaveOccurred())
				Expect(stats.Total).To(BeZero())
				Expect(stats.AverageAmount).To(BeZero())
				Expect(stats.TopAccounts).To(BeEmpty())
				Expect(stats.ByMonth).To(BeEmpty())
			})
		})

		When("documents exist", func() {
			var stats *Statistics

			BeforeEach(func() {
				jan := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
				feb := time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)
				mar := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

				a := add("ACME", jan)
				b := add("Globex", feb)
				c := add("ACME", mar)
				add("Initech", mar)

				_, err := repo.Update(a.ID, Patch{
					ExtractedData:   &extraction.Record{Supplier: "ACME", Amount: amount(100)},
					SelectedAccount: &classify.Account{Code: "613"},
				})
				Expect(err).NotTo(HaveOccurred())
				_, err = repo.Update(b.ID, Patch{
					ExtractedData:   &extraction.Record{Supplier: "Globex", Amount: amount(300)},
					SelectedAccount: &classify.Account{Code: "626"},
				})
				Expect(err).NotTo(HaveOccurred())
				_, err = repo.AddTag(c.ID, "urgent")
				Expect(err).NotTo(HaveOccurred())

				clock.now = time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)
				stats, err = repo.Statistics()
				Expect(err).NotTo(HaveOccurred())
			})

			It("should count documents", func() {
				Expect(stats.Total).To(Equal(4))
				Expect(stats.Edited).To(Equal(2))
				Expect(stats.Tagged).To(Equal(1))
			})

			It("should count the trailing 30 days", func() {
				Expect(stats.Recent).To(Equal(2))
			})

			It("should average defined amounts only", func() {
				Expect(stats.AverageAmount).To(Equal(200.0))
			})

			It("should break ties by first appearance", func() {
				Expect(stats.TopAccounts).To(Equal([]Count{{Key: "613", Count: 1}, {Key: "626", Count: 1}}))
			})

			It("should rank suppliers by frequency", func() {
				Expect(stats.TopSuppliers[0]).To(Equal(Count{Key: "ACME", Count: 2}))
				Expect(stats.TopSuppliers).To(HaveLen(3))
			})

			It("should count tags", func() {
				Expect(stats.TopTags).To(Equal([]Count{{Key: "urgent", Count: 1}}))
			})

			It("should group by month in ascending order", func() {
				Expect(stats.ByMonth).To(Equal([]Count{
					{Key: "2024-01", Count: 1},
					{Key: "2024-02", Count: 1},
					{Key: "2024-03", Count: 2},
				}))
			})
		})

		When("more than five suppliers exist", func() {
			It("should keep the top five", func() {
				for i := 0; i < 7; i++ {
					add(fmt.Sprintf("Supplier %d", i), clock.now)
				}
				stats, err := repo.Statistics()
				Expect(err).NotTo(HaveOccurred())
				Expect(stats.TopSuppliers).To(HaveLen(5))
			})
		})
	})

	Describe("Tags", func() {
		var doc *Document

		BeforeEach(func() {
			doc = add("ACME", clock.now)
		})

		It("should not duplicate a tag added twice", func() {
			_, err := repo.AddTag(doc.ID, "x")
			Expect(err).NotTo(HaveOccurred())
			updated, err := repo.AddTag(doc.ID, "x")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Tags).To(Equal([]string{"x"}))
		})

		It("should remove a present tag", func() {
			_, err := repo.AddTag(doc.ID, "x")
			Expect(err).NotTo(HaveOccurred())
			updated, err := repo.RemoveTag(doc.ID, "x")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Tags).To(BeEmpty())
		})

		It("should treat removing an absent tag as a no-op", func() {
			updated, err := repo.RemoveTag(doc.ID, "absent")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.ID).To(Equal(doc.ID))
			Expect(updated.Revision).To(Equal(doc.Revision))
		})

		It("returns not found for an unknown document", func() {
			_, err := repo.AddTag("missing", "x")
			Expect(err).To(MatchError(ErrNotFound))
			_, err = repo.RemoveTag("missing", "x")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("rejects an empty tag", func() {
			_, err := repo.AddTag(doc.ID, "  ")
			Expect(err).To(MatchError(ErrInvalidInput))
		})

		It("should not lose concurrent tag additions", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := repo.AddTag(doc.ID, fmt.Sprintf("tag-%d", i))
					Expect(err).NotTo(HaveOccurred())
				}(i)
			}
			wg.Wait()

			stored, err := repo.Get(doc.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Tags).To(HaveLen(20))
			Expect(stored.Revision).To(Equal(21))
		})
	})
})
