// Package arcade — витрина игр и активные партии игроков.
// catalog.go описывает игры и их экономику; переопределения читаются из YAML.
package arcade

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"serotonyl.ru/ruby-arcade/internal/common"
	"serotonyl.ru/ruby-arcade/internal/games/climb"
	"serotonyl.ru/ruby-arcade/internal/ledger"
	"serotonyl.ru/ruby-arcade/internal/session"
)

// Game — игра из каталога.
type Game struct {
	ID          string
	Title       string
	Description string
	Rules       climb.Rules
	Economy     session.Config
}

// Catalog — набор игр в порядке показа.
type Catalog struct {
	games map[string]*Game
	order []string
}

// DefaultCatalog возвращает встроенные игры: «Скала» и «Башня».
func DefaultCatalog() *Catalog {
	c := &Catalog{games: make(map[string]*Game)}
	c.add(&Game{
		ID:          "climb",
		Title:       "Скала",
		Description: "Лезь наверх, собирай усилители и не сорвись",
		Rules: climb.Rules{
			Height:        30,
			Milestone:     15,
			PointsPerStep: 1,
			TimeLimit:     3 * time.Minute,
			PickupChance:  0.08,
		},
		Economy: session.Config{
			GameID:           "climb",
			MultiplierFactor: decimal.NewFromInt(2),
			ExtraLifeRestore: 30,
			Betting: session.BettingConfig{
				PresetCap:        49,
				PayoutMultiplier: decimal.NewFromInt(5),
				PromptText:       "Сколько рубинов ставишь, что доберёшься до середины? (1–%d)",
				ForfeitScope:     session.ForfeitEntireReward,
			},
			Effects: map[ledger.PowerupKind]session.TimedEffect{
				ledger.SafetyNet:   {Param: climb.ParamSlipChance, Factor: 0, Duration: 8 * time.Second},
				ledger.SlowGravity: {Param: climb.ParamGravity, Factor: 0.5, Duration: 6 * time.Second},
			},
			Params: map[string]float64{
				climb.ParamSlipChance: 0.12,
				climb.ParamGravity:    1,
			},
		},
	})
	c.add(&Game{
		ID:          "tower",
		Title:       "Башня",
		Description: "Высокая башня: больше очков за этаж, выше риск",
		Rules: climb.Rules{
			Height:        50,
			Milestone:     25,
			PointsPerStep: 2,
			TimeLimit:     5 * time.Minute,
			PickupChance:  0.05,
		},
		Economy: session.Config{
			GameID:           "tower",
			MultiplierFactor: decimal.NewFromInt(2),
			ExtraLifeRestore: 45,
			Betting: session.BettingConfig{
				PresetCap:        100,
				PayoutMultiplier: decimal.NewFromInt(5),
				PromptText:       "Ставка на 25-й этаж (1–%d рубинов)",
				ForfeitScope:     session.ForfeitEntireReward,
			},
			Effects: map[ledger.PowerupKind]session.TimedEffect{
				ledger.SlowGravity: {Param: climb.ParamGravity, Factor: 0.5, Duration: 6 * time.Second},
			},
			Params: map[string]float64{
				climb.ParamSlipChance: 0.08,
				climb.ParamGravity:    1.25,
			},
		},
	})
	return c
}

func (c *Catalog) add(g *Game) {
	if _, ok := c.games[g.ID]; !ok {
		c.order = append(c.order, g.ID)
	}
	c.games[g.ID] = g
}

// Get возвращает игру по ID.
func (c *Catalog) Get(id string) (*Game, error) {
	g, ok := c.games[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, common.ErrUnknownGame)
	}
	return g, nil
}

// List возвращает игры в порядке показа.
func (c *Catalog) List() []*Game {
	out := make([]*Game, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.games[id])
	}
	return out
}

// Validate проверяет все игры.
func (c *Catalog) Validate() error {
	for _, g := range c.List() {
		if err := g.Economy.Validate(); err != nil {
			return err
		}
		if err := g.Rules.Validate(); err != nil {
			return fmt.Errorf("%s: %w", g.ID, err)
		}
	}
	return nil
}

// fileCatalog — формат файла переопределений.
//
//	games:
//	  climb:
//	    preset_cap: 49
//	    payout_multiplier: "5"
//	    forfeit_scope: stake_only
//	    effects:
//	      slow_gravity: {param: gravity, factor: 0.5, duration: 6s}
type fileCatalog struct {
	Games map[string]fileGame `yaml:"games"`
}

type fileGame struct {
	Title            string                `yaml:"title"`
	Description      string                `yaml:"description"`
	Height           int                   `yaml:"height"`
	Milestone        int                   `yaml:"milestone"`
	PointsPerStep    int64                 `yaml:"points_per_step"`
	TimeLimit        string                `yaml:"time_limit"`
	PickupChance     *float64              `yaml:"pickup_chance"`
	MultiplierFactor string                `yaml:"multiplier_factor"`
	ExtraLifeRestore int64                 `yaml:"extra_life_restore"`
	PresetCap        int64                 `yaml:"preset_cap"`
	PayoutMultiplier string                `yaml:"payout_multiplier"`
	PromptText       string                `yaml:"prompt_text"`
	ForfeitScope     string                `yaml:"forfeit_scope"`
	Params           map[string]float64    `yaml:"params"`
	Effects          map[string]fileEffect `yaml:"effects"`
}

type fileEffect struct {
	Param    string  `yaml:"param"`
	Factor   float64 `yaml:"factor"`
	Duration string  `yaml:"duration"`
}

// LoadCatalog возвращает встроенный каталог с переопределениями из файла path.
// Пустой path или отсутствующий файл — только встроенные игры.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("чтение каталога: %w", err)
	}
	if err := c.ApplyYAML(data); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyYAML применяет переопределения. Неизвестный ID добавляет новую игру
// на основе «Скалы».
func (c *Catalog) ApplyYAML(data []byte) error {
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("разбор каталога: %w", err)
	}

	ids := make([]string, 0, len(fc.Games))
	for id := range fc.Games {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		g, ok := c.games[id]
		if !ok {
			base := *c.games["climb"]
			base.ID = id
			base.Economy = cloneEconomy(base.Economy)
			base.Economy.GameID = id
			g = &base
		} else {
			cp := *g
			cp.Economy = cloneEconomy(g.Economy)
			g = &cp
		}
		if err := fc.Games[id].applyTo(g); err != nil {
			return fmt.Errorf("игра %s: %w", id, err)
		}
		c.add(g)
	}
	return c.Validate()
}

func (f fileGame) applyTo(g *Game) error {
	if f.Title != "" {
		g.Title = f.Title
	}
	if f.Description != "" {
		g.Description = f.Description
	}
	if f.Height > 0 {
		g.Rules.Height = f.Height
	}
	if f.Milestone > 0 {
		g.Rules.Milestone = f.Milestone
	}
	if f.PointsPerStep > 0 {
		g.Rules.PointsPerStep = f.PointsPerStep
	}
	if f.TimeLimit != "" {
		d, err := time.ParseDuration(f.TimeLimit)
		if err != nil {
			return fmt.Errorf("time_limit: %w", err)
		}
		g.Rules.TimeLimit = d
	}
	if f.PickupChance != nil {
		g.Rules.PickupChance = *f.PickupChance
	}

	e := &g.Economy
	if f.MultiplierFactor != "" {
		d, err := decimal.NewFromString(f.MultiplierFactor)
		if err != nil {
			return fmt.Errorf("multiplier_factor: %w", err)
		}
		e.MultiplierFactor = d
	}
	if f.ExtraLifeRestore > 0 {
		e.ExtraLifeRestore = f.ExtraLifeRestore
	}
	if f.PresetCap > 0 {
		e.Betting.PresetCap = f.PresetCap
	}
	if f.PayoutMultiplier != "" {
		d, err := decimal.NewFromString(f.PayoutMultiplier)
		if err != nil {
			return fmt.Errorf("payout_multiplier: %w", err)
		}
		e.Betting.PayoutMultiplier = d
	}
	if f.PromptText != "" {
		e.Betting.PromptText = f.PromptText
	}
	if f.ForfeitScope != "" {
		e.Betting.ForfeitScope = session.ForfeitScope(f.ForfeitScope)
	}
	for k, v := range f.Params {
		e.Params[k] = v
	}
	for name, fe := range f.Effects {
		kind, ok := ledger.ParseKind(name)
		if !ok {
			return fmt.Errorf("эффект %q: %w", name, ledger.ErrUnknownKind)
		}
		d, err := time.ParseDuration(fe.Duration)
		if err != nil {
			return fmt.Errorf("эффект %s: %w", name, err)
		}
		e.Effects[kind] = session.TimedEffect{Param: fe.Param, Factor: fe.Factor, Duration: d}
	}
	return nil
}

func cloneEconomy(c session.Config) session.Config {
	out := c
	out.Params = make(map[string]float64, len(c.Params))
	for k, v := range c.Params {
		out.Params[k] = v
	}
	out.Effects = make(map[ledger.PowerupKind]session.TimedEffect, len(c.Effects))
	for k, v := range c.Effects {
		out.Effects[k] = v
	}
	return out
}
