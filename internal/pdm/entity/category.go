package entity

// Category 物料分类
type Category string

const (
	CategoryMaterial        Category = "MATERIAL"
	CategoryStandardProduct Category = "STANDARD_PRODUCT"
	CategoryOtherProduct    Category = "OTHER_PRODUCT"
	CategoryPart            Category = "PART"
	CategoryAssemblyUnit    Category = "ASSEMBLY_UNIT"
	CategorySubsystem       Category = "SUBSYSTEM"
	CategorySystem          Category = "SYSTEM"
	CategoryStand           Category = "STAND"
)

// Categories lists every category from leaf-most to top-most.
var Categories = []Category{
	CategoryMaterial,
	CategoryStandardProduct,
	CategoryOtherProduct,
	CategoryPart,
	CategoryAssemblyUnit,
	CategorySubsystem,
	CategorySystem,
	CategoryStand,
}

func (c Category) String() string { return string(c) }

func (c Category) IsValid() bool {
	switch c {
	case CategoryMaterial, CategoryStandardProduct, CategoryOtherProduct,
		CategoryPart, CategoryAssemblyUnit, CategorySubsystem, CategorySystem, CategoryStand:
		return true
	}
	return false
}

// IsPurchased 外购件：材料、标准件、其他外购品
func (c Category) IsPurchased() bool {
	switch c {
	case CategoryMaterial, CategoryStandardProduct, CategoryOtherProduct:
		return true
	}
	return false
}

// IsManufactured 自制件
func (c Category) IsManufactured() bool {
	return c.IsValid() && !c.IsPurchased()
}

// CategoryTable maps a parent category to the categories allowed as its direct children.
type CategoryTable map[Category][]Category

// Allows reports whether child may be placed directly under parent.
func (t CategoryTable) Allows(parent, child Category) bool {
	for _, c := range t[parent] {
		if c == child {
			return true
		}
	}
	return false
}

// AllowedChildren returns a copy of the child set for parent.
func (t CategoryTable) AllowedChildren(parent Category) []Category {
	out := make([]Category, len(t[parent]))
	copy(out, t[parent])
	return out
}

var purchasedCategories = []Category{CategoryMaterial, CategoryStandardProduct, CategoryOtherProduct}

func withPurchased(cs ...Category) []Category {
	return append(cs, purchasedCategories...)
}

// DefaultCategoryTable is the built-in compatibility table. Purchased categories
// have no children.
var DefaultCategoryTable = CategoryTable{
	CategoryStand:           withPurchased(CategorySystem, CategorySubsystem, CategoryAssemblyUnit, CategoryPart),
	CategorySystem:          withPurchased(CategorySubsystem, CategoryAssemblyUnit, CategoryPart),
	CategorySubsystem:       withPurchased(CategoryAssemblyUnit, CategoryPart),
	CategoryAssemblyUnit:    withPurchased(CategoryAssemblyUnit, CategoryPart),
	CategoryPart:            {CategoryMaterial},
	CategoryMaterial:        {},
	CategoryStandardProduct: {},
	CategoryOtherProduct:    {},
}
