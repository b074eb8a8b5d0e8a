package main

import (
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chatkeep/internal/config"
	"github.com/suPer8Hu/chatkeep/internal/db"
)

func main() {
	cfg := config.Load()
	open := func() (*gorm.DB, error) { return db.Connect(cfg.DBDriver, cfg.DBDSN) }

	root := newRootCmd(os.Stdout, open, cfg.ChatRetentionLimit)
	cobra.CheckErr(root.Execute())
}
