package shopify

import (
	"context"
	"fmt"
	"strings"
)

// MaxNodesPerQuery is the Admin API limit on ids passed to a single nodes() query.
const MaxNodesPerQuery = 250

const gidVariantPrefix = "gid://shopify/ProductVariant/"

const variantProductQuery = `query VariantProduct($id: ID!) {
  productVariant(id: $id) {
    id
    product { id }
  }
}`

const variantMetafieldsQuery = `query VariantMetafields($ids: [ID!]!, $namespace: String!, $key: String!) {
  nodes(ids: $ids) {
    ... on ProductVariant {
      id
      metafield(namespace: $namespace, key: $key) { value }
    }
  }
}`

// VariantGID converts a numeric variant id into its global id. Global ids pass through.
func VariantGID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "gid://") {
		return id
	}
	return gidVariantPrefix + id
}

// LegacyID strips the gid prefix from a Shopify global id.
func LegacyID(gid string) string {
	gid = strings.TrimSpace(gid)
	if idx := strings.LastIndex(gid, "/"); idx >= 0 && strings.HasPrefix(gid, "gid://") {
		gid = gid[idx+1:]
	}
	if q := strings.IndexByte(gid, '?'); q >= 0 {
		gid = gid[:q]
	}
	return gid
}

// ProductIDForVariant returns the legacy id of the product owning the variant.
func (c *Client) ProductIDForVariant(ctx context.Context, variantID string) (string, error) {
	var out struct {
		ProductVariant *struct {
			ID      string `json:"id"`
			Product *struct {
				ID string `json:"id"`
			} `json:"product"`
		} `json:"productVariant"`
	}
	vars := map[string]any{"id": VariantGID(variantID)}
	if err := c.Query(ctx, "VariantProduct", variantProductQuery, vars, &out); err != nil {
		return "", err
	}
	if out.ProductVariant == nil || out.ProductVariant.Product == nil || out.ProductVariant.Product.ID == "" {
		return "", fmt.Errorf("variant %s: %w", variantID, ErrNotFound)
	}
	return LegacyID(out.ProductVariant.Product.ID), nil
}

// VariantMetafields reads one metafield for up to MaxNodesPerQuery variants. The result is keyed by
// the ids as requested, numeric or global; variants that do not exist or lack the metafield are
// omitted.
func (c *Client) VariantMetafields(ctx context.Context, variantIDs []string, namespace, key string) (map[string]string, error) {
	if len(variantIDs) == 0 {
		return map[string]string{}, nil
	}
	if len(variantIDs) > MaxNodesPerQuery {
		return nil, fmt.Errorf("shopify: %d ids exceeds nodes limit of %d", len(variantIDs), MaxNodesPerQuery)
	}

	requested := make(map[string][]string, len(variantIDs))
	gids := make([]string, 0, len(variantIDs))
	for _, id := range variantIDs {
		gid := VariantGID(id)
		if _, seen := requested[gid]; !seen {
			gids = append(gids, gid)
		}
		requested[gid] = append(requested[gid], id)
	}

	var out struct {
		Nodes []*struct {
			ID        string `json:"id"`
			Metafield *struct {
				Value string `json:"value"`
			} `json:"metafield"`
		} `json:"nodes"`
	}
	vars := map[string]any{"ids": gids, "namespace": namespace, "key": key}
	if err := c.Query(ctx, "VariantMetafields", variantMetafieldsQuery, vars, &out); err != nil {
		return nil, err
	}

	values := make(map[string]string, len(variantIDs))
	for _, node := range out.Nodes {
		if node == nil || node.ID == "" || node.Metafield == nil {
			continue
		}
		ids, ok := requested[node.ID]
		if !ok {
			ids = requested[VariantGID(LegacyID(node.ID))]
		}
		for _, id := range ids {
			values[id] = node.Metafield.Value
		}
	}
	return values, nil
}
