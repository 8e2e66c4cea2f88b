package firestore

import (
	"context"
	"errors"
	"time"

	"github.com/shoplane/api/internal/domain"
	pfirestore "github.com/shoplane/api/internal/platform/firestore"
)

const (
	settingsCollection = "settings"
	settingsDocID      = "store"
)

type shippingMethodDocument struct {
	Code       string `firestore:"code"`
	Name       string `firestore:"name"`
	Fee        int64  `firestore:"fee"`
	EtaMinDays int    `firestore:"etaMinDays"`
	EtaMaxDays int    `firestore:"etaMaxDays"`
	Active     bool   `firestore:"active"`
}

type settingsDocument struct {
	ShippingMethods []shippingMethodDocument `firestore:"shippingMethods"`
	DefaultMethod   string                   `firestore:"defaultMethod"`
	FreeOver        int64                    `firestore:"freeOver"`
	TaxRateBps      int64                    `firestore:"taxRateBps"`
	TaxDisplay      string                   `firestore:"taxDisplay,omitempty"`
	UpdatedAt       time.Time                `firestore:"updatedAt"`
}

// SettingsRepository reads the singleton store settings document.
type SettingsRepository struct {
	settings *pfirestore.BaseRepository[settingsDocument]
}

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{
		settings: pfirestore.NewBaseRepository[settingsDocument](provider, settingsCollection, nil, nil),
	}, nil
}

// Get loads the store settings.
func (r *SettingsRepository) Get(ctx context.Context) (domain.Settings, error) {
	doc, err := r.settings.Get(ctx, settingsDocID)
	if err != nil {
		return domain.Settings{}, err
	}
	methods := make([]domain.ShippingMethod, 0, len(doc.Data.ShippingMethods))
	for _, m := range doc.Data.ShippingMethods {
		methods = append(methods, domain.ShippingMethod{
			Code:       m.Code,
			Name:       m.Name,
			Fee:        m.Fee,
			EtaMinDays: m.EtaMinDays,
			EtaMaxDays: m.EtaMaxDays,
			Active:     m.Active,
		})
	}
	return domain.Settings{
		ShippingMethods: methods,
		DefaultMethod:   doc.Data.DefaultMethod,
		FreeOver:        doc.Data.FreeOver,
		TaxRateBps:      doc.Data.TaxRateBps,
		TaxDisplay:      doc.Data.TaxDisplay,
		UpdatedAt:       doc.Data.UpdatedAt,
	}, nil
}
