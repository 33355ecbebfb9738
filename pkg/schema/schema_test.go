package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dcube/pkg/cube"
	"github.com/l7mp/dcube/pkg/field"
	"github.com/l7mp/dcube/pkg/store"
)

func TestSchema(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Schema")
}

const salesSchema = `
name: sales
idSpec: key
info:
  source: unit-test
fields:
  - name: region
    type: string
    dimension: true
  - name: city
    type: string
    dimension: true
    parentDimension: region
  - name: amount
    type: number
    aggregator: SUM
    default: 0
`

var _ = Describe("Schema", func() {
	It("should load a cube config from YAML", func() {
		cfg, err := Load(strings.NewReader(salesSchema))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.IDSpec).To(Equal(store.IDSpec("key")))
		Expect(cfg.Info).To(HaveKeyWithValue("name", "sales"))
		Expect(cfg.Info).To(HaveKeyWithValue("source", "unit-test"))
		Expect(cfg.Fields).To(HaveLen(3))

		Expect(cfg.Fields[0].Name).To(Equal("region"))
		Expect(cfg.Fields[0].IsDimension).To(BeTrue())
		Expect(cfg.Fields[1].ParentDimension).To(Equal("region"))
		Expect(cfg.Fields[2].Type).To(Equal(field.TypeNumber))
		Expect(cfg.Fields[2].Aggregator).To(Equal("SUM"))
		Expect(cfg.Fields[2].DefaultValue).To(Equal(0))
	})

	It("should produce a config a cube accepts", func() {
		cfg, err := Load(strings.NewReader(salesSchema))
		Expect(err).NotTo(HaveOccurred())
		c, err := cube.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Dimensions()).To(HaveLen(2))
	})

	It("should reject unknown YAML keys", func() {
		_, err := Load(strings.NewReader("fields:\n  - name: x\n    colour: red\n"))
		Expect(err).To(HaveOccurred())
	})

	It("should reject a schema without fields", func() {
		_, err := Load(strings.NewReader("name: empty\n"))
		Expect(err).To(HaveOccurred())
	})

	It("should reject a field without a name", func() {
		_, err := Load(strings.NewReader("fields:\n  - type: string\n"))
		Expect(err).To(HaveOccurred())
	})

	It("should reject unknown field types", func() {
		_, err := Load(strings.NewReader("fields:\n  - name: x\n    type: datetime\n"))
		Expect(err).To(HaveOccurred())
	})

	It("should reject unknown aggregator tokens", func() {
		_, err := Load(strings.NewReader("fields:\n  - name: x\n    aggregator: MEDIAN\n"))
		Expect(err).To(HaveOccurred())
	})

	It("should load from a file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "sales.yaml")
		Expect(os.WriteFile(path, []byte(salesSchema), 0o644)).To(Succeed())

		cfg, err := LoadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Fields).To(HaveLen(3))

		_, err = LoadFile(filepath.Join(GinkgoT().TempDir(), "nope.yaml"))
		Expect(err).To(HaveOccurred())
	})
})
