package db

import (
	"github.com/crossmirror/crosschain-indexer/config"
	"github.com/crossmirror/crosschain-indexer/db/models"
	"gorm.io/gorm"
)

// GetOrCreateChain loads the chain row matching the identifier, creating it
// from the passed in configuration on first run.
func GetOrCreateChain(db *gorm.DB, chain models.Chain) (models.Chain, error) {
	if err := db.Where(models.Chain{ChainID: chain.ChainID}).
		Assign(models.Chain{
			Name:              chain.Name,
			FinalityModel:     chain.FinalityModel,
			ConfirmationDepth: chain.ConfirmationDepth,
		}).
		FirstOrCreate(&chain).Error; err != nil {
		config.Log.Error("Error getting/creating chain DB object.", err)
		return chain, err
	}
	return chain, nil
}

// RecordChainStatus updates the operator-facing status columns of a chain.
// lastErr overwrites the previous error, pass "" after a clean batch.
func RecordChainStatus(db *gorm.DB, chainID uint, lastIndexedHeight int64, lastErr string) error {
	return db.Model(&models.Chain{}).
		Where("id = ?", chainID).
		Updates(map[string]interface{}{
			"last_indexed_height": lastIndexedHeight,
			"last_error":          lastErr,
		}).Error
}

// GetChains returns every configured chain row.
func GetChains(db *gorm.DB) ([]models.Chain, error) {
	var chains []models.Chain
	if err := db.Find(&chains).Error; err != nil {
		return nil, err
	}
	return chains, nil
}
