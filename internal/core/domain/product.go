package domain

type ProductType string

const (
	ProductTypeDrug   ProductType = "drug"
	ProductTypeSupply ProductType = "supply"
)

type Product struct {
	ID              int64
	Name            string
	Type            ProductType
	MinStock        int
	UnitsPerPackage int
}
