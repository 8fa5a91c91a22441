package document

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"

	"github.com/zombor/doc-ledger/internal/extraction"
	"github.com/zombor/doc-ledger/internal/storage"
	"github.com/zombor/doc-ledger/internal/versioning"
)

var _ = Describe("documentLocks", func() {
	It("should let one holder in at a time per document", func() {
		var (
			locks   documentLocks
			wg      sync.WaitGroup
			mu      sync.Mutex
			inside  int
			maxSeen int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := locks.lock("doc1")
				mu.Lock()
				inside++
				maxSeen = max(maxSeen, inside)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				unlock()
			}()
		}
		wg.Wait()

		Expect(maxSeen).To(Equal(1))
		Expect(locks.held()).To(Equal(0))
	})

	It("should not block other documents", func() {
		var locks documentLocks
		unlock := locks.lock("doc1")
		defer unlock()

		done := make(chan struct{})
		go func() {
			locks.lock("doc2")()
			close(done)
		}()
		Eventually(done).Should(BeClosed())
	})
})

var _ = Describe("Service over a bolt store", func() {
	var (
		db      *bbolt.DB
		repo    *BoltRepository
		engine  *versioning.Engine
		service *Service
		doc     *Document
	)

	BeforeEach(func() {
		var err error
		db, err = storage.OpenBolt(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
		repo, err = NewBoltRepository(db)
		Expect(err).NotTo(HaveOccurred())
		engine, err = versioning.NewEngine(db)
		Expect(err).NotTo(HaveOccurred())
		service = NewService(repo, engine, &mockClassifier{}, &mockProducer{}, newMockFiles())

		doc, err = repo.Add(NewDocument{
			Filename:      "facture.pdf",
			ExtractedData: extraction.Record{Supplier: "ACME Corp", Confidence: 0.5},
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = engine.CreateVersion(doc.ID, SystemUser, "Initial extraction", []versioning.Change{}, doc.ExtractedData)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		db.Close()
	})

	When("edits of one document race", func() {
		It("should diff every version against the one before it", func() {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					data := extraction.Record{Supplier: fmt.Sprintf("Supplier %d", i)}
					_, err := service.UpdateDocument(doc.ID, Patch{ExtractedData: &data}, "bob", "")
					Expect(err).NotTo(HaveOccurred())
				}(i)
			}
			wg.Wait()

			versions, err := engine.GetVersions(doc.ID, versioning.SortAsc, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(versions).To(HaveLen(9))

			for i := 1; i < len(versions); i++ {
				var supplier *versioning.Change
				for j := range versions[i].Changes {
					if versions[i].Changes[j].Field == extraction.FieldSupplier {
						supplier = &versions[i].Changes[j]
					}
				}
				Expect(supplier).NotTo(BeNil())
				Expect(supplier.PreviousValue).To(Equal(versions[i-1].Snapshot.Supplier))
				Expect(supplier.NewValue).To(Equal(versions[i].Snapshot.Supplier))
			}
		})
	})

	When("a version is restored", func() {
		It("should copy the snapshot unchanged and give the document manual confidence", func() {
			data := extraction.Record{Supplier: "ACME SARL"}
			_, err := service.UpdateDocument(doc.ID, Patch{ExtractedData: &data}, "bob", "")
			Expect(err).NotTo(HaveOccurred())

			restored, err := service.RestoreVersion(doc.ID, 1, "bob", "")
			Expect(err).NotTo(HaveOccurred())

			first, err := engine.GetVersion(doc.ID, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(restored.Version.Snapshot.Supplier).To(Equal(first.Snapshot.Supplier))
			Expect(restored.Version.Snapshot.Confidence).To(Equal(first.Snapshot.Confidence))
			Expect(restored.Version.Snapshot.Confidence).To(Equal(0.5))
			Expect(restored.Document.ExtractedData.Supplier).To(Equal("ACME Corp"))
			Expect(restored.Document.ExtractedData.Confidence).To(Equal(extraction.ManualConfidence))
			Expect(restored.Document.IsEdited).To(BeTrue())
		})
	})
})
