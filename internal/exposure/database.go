package exposure

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateRule(rule *Rule) error {
	return d.db.Create(rule).Error
}

func (d *Database) GetRuleByCurrency(currency string) (*Rule, error) {
	var rule Rule
	if err := d.db.Preload("DateRules").Where("currency = ?", currency).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

func (d *Database) ListRules() ([]Rule, error) {
	var rules []Rule
	if err := d.db.Preload("DateRules").Order("currency ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (d *Database) UpdateRule(rule *Rule) error {
	rule.UpdatedAt = time.Now()
	return d.db.Save(rule).Error
}
