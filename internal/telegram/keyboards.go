package telegram

import (
	"github.com/go-telegram/bot/models"
)

const callbackStats = "stats"

// MainKeyboard returns the ops menu keyboard
func MainKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🔄 Refresh stats", CallbackData: callbackStats},
			},
		},
	}
}
