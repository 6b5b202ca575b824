package seed

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"marketplace/internal/models"

	"gopkg.in/yaml.v3"
)

// Fixtures is a hand-written data set, usually loaded from YAML:
//
//	profiles:
//	  - {id: sellerone, nickname: Seller, email: seller@example.com}
//	products:
//	  - {key: bike, title: Bicycle, price: 120000, category: sports, seller: sellerone}
//	chats:
//	  - product: bike
//	    buyer: buyerone
//	    messages:
//	      - {from: buyer, text: Is it still available?}
type Fixtures struct {
	Profiles []ProfileSpec `yaml:"profiles"`
	Products []ProductSpec `yaml:"products"`
	Chats    []ChatSpec    `yaml:"chats"`
}

// ChatSpec references a product by key and a buyer by login id.
type ChatSpec struct {
	Product  string     `yaml:"product"`
	Buyer    string     `yaml:"buyer"`
	Messages []ChatLine `yaml:"messages"`
}

// ParseFixtures decodes YAML, rejecting unknown keys.
func ParseFixtures(data []byte) (*Fixtures, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var fx Fixtures
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return &fx, nil
}

// LoadFixtures reads and parses a fixture file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFixtures(data)
}

// Apply stores fx. Products and chats may only reference profiles and
// products declared earlier in the same fixture set.
func (f *Factory) Apply(ctx context.Context, fx *Fixtures) (*Result, error) {
	res := &Result{}
	byLoginID := make(map[string]*models.Profile, len(fx.Profiles))
	for _, spec := range fx.Profiles {
		p, err := f.CreateProfile(ctx, spec)
		if err != nil {
			return res, err
		}
		byLoginID[p.LoginID] = p
		res.Profiles = append(res.Profiles, p)
	}

	byKey := make(map[string]*models.Product, len(fx.Products))
	for _, spec := range fx.Products {
		seller, ok := byLoginID[spec.Seller]
		if !ok {
			return res, fmt.Errorf("product %q: unknown seller %q", spec.Title, spec.Seller)
		}
		p, err := f.CreateProduct(ctx, seller, spec)
		if err != nil {
			return res, err
		}
		if spec.Key != "" {
			byKey[spec.Key] = p
		}
		res.Products = append(res.Products, p)
	}

	for _, spec := range fx.Chats {
		product, ok := byKey[spec.Product]
		if !ok {
			return res, fmt.Errorf("chat: unknown product %q", spec.Product)
		}
		buyer, ok := byLoginID[spec.Buyer]
		if !ok {
			return res, fmt.Errorf("chat on %q: unknown buyer %q", spec.Product, spec.Buyer)
		}
		room, err := f.CreateChat(ctx, buyer, product, spec.Messages)
		if err != nil {
			return res, err
		}
		res.Rooms = append(res.Rooms, room)
	}
	return res, nil
}
