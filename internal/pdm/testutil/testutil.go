package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-pdm/internal/pdm/entity"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/repository"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const TestSchema = "test_pdm"

// projectRoot returns the project root directory by looking for go.mod
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// loadEnv loads .env from the project root
func loadEnv() {
	if root := projectRoot(); root != "" {
		_ = godotenv.Load(filepath.Join(root, ".env"))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	}
}

// SetupTestDB opens postgres on an isolated schema that is dropped when the
// test ends. The test is skipped when no database is reachable.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	baseDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable connect_timeout=3",
		getEnv("DB_HOST", "127.0.0.1"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "nimo"),
		getEnv("DB_PASSWORD", "nimo123"),
		getEnv("DB_NAME", "nimo_pdm"),
	)
	schemaName := fmt.Sprintf("%s_%d", TestSchema, time.Now().UnixNano()%1000000)

	setupDB, err := gorm.Open(postgres.Open(baseDSN), gormConfig())
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName)).Error; err != nil {
		t.Skipf("cannot create test schema: %v", err)
	}
	closeDB(setupDB)

	// search_path in the DSN so every pooled connection uses the test schema
	db, err := gorm.Open(postgres.Open(fmt.Sprintf("%s search_path=%s", baseDSN, schemaName)), gormConfig())
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		closeDB(db)
		cleanDB, err := gorm.Open(postgres.Open(baseDSN), gormConfig())
		if err != nil {
			return
		}
		cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
		closeDB(cleanDB)
	})
	return db
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// SampleBOM builds STAND -> SYS -> ASM -> {PART -> STEEL (2.5 kg), BOLT x8}
// with BOLT also used directly under SYS (x4).
func SampleBOM(t *testing.T) *entity.BOMStructure {
	t.Helper()
	bom, err := entity.NewBOMStructure("STAND-1", entity.CategoryStand, "Test stand", "", "tester")
	if err != nil {
		t.Fatalf("NewBOMStructure: %v", err)
	}
	rows := []entity.AddBOMItemInput{
		{ParentItemID: "STAND-1", ChildItemID: "SYS-1", ChildCategory: entity.CategorySystem, Quantity: entity.Pieces(1)},
		{ParentItemID: "SYS-1", ChildItemID: "ASM-1", ChildCategory: entity.CategoryAssemblyUnit, Quantity: entity.Pieces(2)},
		{ParentItemID: "ASM-1", ChildItemID: "PART-1", ChildCategory: entity.CategoryPart, Quantity: entity.Pieces(3)},
		{ParentItemID: "PART-1", ChildItemID: "STEEL", ChildCategory: entity.CategoryMaterial, Quantity: entity.MustQuantity(2.5, "kg")},
		{ParentItemID: "ASM-1", ChildItemID: "BOLT-M8", ChildCategory: entity.CategoryStandardProduct, Quantity: entity.Pieces(8)},
		{ParentItemID: "SYS-1", ChildItemID: "BOLT-M8", ChildCategory: entity.CategoryStandardProduct, Quantity: entity.Pieces(4)},
	}
	for _, in := range rows {
		if _, err := bom.AddItem(in, "tester"); err != nil {
			t.Fatalf("AddItem(%s): %v", in.ChildItemID, err)
		}
	}
	return bom
}

// SampleProject expands SampleBOM into a project for one stand.
func SampleProject(t *testing.T) (*entity.BOMStructure, *entity.Project) {
	t.Helper()
	bom := SampleBOM(t)
	project, err := entity.NewProjectFromBOM(bom, "Stand #1", decimal.NewFromInt(1), "tester")
	if err != nil {
		t.Fatalf("NewProjectFromBOM: %v", err)
	}
	return bom, project
}

// ItemByNomenclature returns the first project item for nomenclatureID.
func ItemByNomenclature(t *testing.T, p *entity.Project, nomenclatureID string) entity.ProjectItem {
	t.Helper()
	for _, it := range p.Items() {
		if it.NomenclatureItemID == nomenclatureID {
			return it
		}
	}
	t.Fatalf("project has no item for %s", nomenclatureID)
	return entity.ProjectItem{}
}
