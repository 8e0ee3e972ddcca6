package claims

// Merge overlays id on top of access: access-token claims first, identity
// token claims win on key collision. Either side may be nil.
func Merge(access, id *Claims) *Claims {
	switch {
	case access == nil && id == nil:
		return nil
	case access == nil:
		return id.clone()
	case id == nil:
		return access.clone()
	}

	merged := make(map[string]any, len(access.values)+len(id.values))
	for k, v := range access.values {
		merged[k] = v
	}
	for k, v := range id.values {
		merged[k] = v
	}

	out := &Claims{values: merged, resourceOrder: access.resourceOrder}
	if _, ok := id.values[ResourceAccess]; ok {
		out.resourceOrder = id.resourceOrder
	}
	return out
}

// MergeTokens decodes both tokens and merges them. Empty or malformed tokens
// contribute nothing.
func MergeTokens(accessToken, idToken string) *Claims {
	return Merge(Decode(accessToken), Decode(idToken))
}

func (c *Claims) clone() *Claims {
	values := make(map[string]any, len(c.values))
	for k, v := range c.values {
		values[k] = v
	}
	order := make([]string, len(c.resourceOrder))
	copy(order, c.resourceOrder)
	return &Claims{values: values, resourceOrder: order}
}
