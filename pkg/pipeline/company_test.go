// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipintel/pkg/fnle"
	"ipintel/pkg/model"
	"ipintel/pkg/util/ipcodec"
)

func companyMatch(network string, p model.CompanyPayload) fnle.Match[model.CompanyPayload] {
	start, end, err := ipcodec.ParseNetwork(network)
	if err != nil {
		panic(err)
	}
	return fnle.Match[model.CompanyPayload]{Payload: p, Start: start, End: end}
}

func TestResolveCompanyNil(t *testing.T) {
	assert.Nil(t, resolveCompany(nil, ""))
}

func TestResolveCompanyLastResortOnlyWhenAlone(t *testing.T) {
	rir := companyMatch("8.0.0.0/8", model.CompanyPayload{Name: "ARIN", LastResort: true})

	m := resolveCompany([]fnle.Match[model.CompanyPayload]{rir}, "")
	require.NotNil(t, m)
	assert.Equal(t, "ARIN", m.Payload.Name)

	biz := companyMatch("8.8.0.0/16", model.CompanyPayload{Name: "Level 3", Type: "business"})
	m = resolveCompany([]fnle.Match[model.CompanyPayload]{rir, biz}, "")
	require.NotNil(t, m)
	assert.Equal(t, "Level 3", m.Payload.Name)
}

func TestResolveCompanyCustomerDelegationWins(t *testing.T) {
	ms := []fnle.Match[model.CompanyPayload]{
		companyMatch("8.8.0.0/16", model.CompanyPayload{Name: "Carrier", Type: "isp"}),
		companyMatch("8.8.8.0/24", model.CompanyPayload{Name: "Customer Corp", Type: "business", RegistryTag: "ARIN_CUST"}),
	}
	m := resolveCompany(ms, "Carrier")
	require.NotNil(t, m)
	assert.Equal(t, "Customer Corp", m.Payload.Name)
}

func TestResolveCompanyAbusiveSubnetSurfaces(t *testing.T) {
	ms := []fnle.Match[model.CompanyPayload]{
		companyMatch("8.8.0.0/16", model.CompanyPayload{Name: "Clean Carrier", Type: "isp"}),
		companyMatch("8.8.8.0/24", model.CompanyPayload{Name: "Bulletproof Hosting", Type: "hosting", AbuserScore: 0.42}),
	}
	m := resolveCompany(ms, "")
	require.NotNil(t, m)
	assert.Equal(t, "Bulletproof Hosting", m.Payload.Name)
}

func TestResolveCompanySensitiveTypeBeatsISP(t *testing.T) {
	ms := []fnle.Match[model.CompanyPayload]{
		companyMatch("8.8.0.0/16", model.CompanyPayload{Name: "Carrier", Type: "isp"}),
		companyMatch("8.8.8.0/24", model.CompanyPayload{Name: "State University", Type: "education"}),
	}
	m := resolveCompany(ms, "")
	require.NotNil(t, m)
	assert.Equal(t, "State University", m.Payload.Name)
}

func TestResolveCompanyPriorityOperator(t *testing.T) {
	ms := []fnle.Match[model.CompanyPayload]{
		companyMatch("8.8.0.0/16", model.CompanyPayload{Name: "Reseller", Type: "business"}),
		companyMatch("8.8.8.0/24", model.CompanyPayload{Name: "Cloudflare, Inc.", Type: "business"}),
	}
	m := resolveCompany(ms, "")
	require.NotNil(t, m)
	assert.Equal(t, "Cloudflare, Inc.", m.Payload.Name)
}

func TestResolveCompanySingleISP(t *testing.T) {
	ms := []fnle.Match[model.CompanyPayload]{
		companyMatch("8.8.0.0/16", model.CompanyPayload{Name: "Carrier", Type: "isp"}),
		companyMatch("8.8.8.0/24", model.CompanyPayload{Name: "Some Office", Type: "business"}),
	}
	m := resolveCompany(ms, "")
	require.NotNil(t, m)
	assert.Equal(t, "Carrier", m.Payload.Name)
}

func TestResolveCompanyASNOrgNameMatch(t *testing.T) {
	ms := []fnle.Match[model.CompanyPayload]{
		companyMatch("8.8.0.0/16", model.CompanyPayload{Name: "Acme Networks", Type: "hosting"}),
		companyMatch("8.8.8.0/24", model.CompanyPayload{Name: "Tenant GmbH", Type: "hosting"}),
	}
	m := resolveCompany(ms, "acme networks")
	require.NotNil(t, m)
	assert.Equal(t, "Acme Networks", m.Payload.Name)

	// A business record merely sharing the AS name does not qualify.
	ms[0].Payload.Type = "business"
	m = resolveCompany(ms, "acme networks")
	require.NotNil(t, m)
	assert.Equal(t, "Tenant GmbH", m.Payload.Name)
}

func TestResolveCompanyFallsBackToNarrowest(t *testing.T) {
	ms := []fnle.Match[model.CompanyPayload]{
		companyMatch("8.8.0.0/16", model.CompanyPayload{Name: "Wide Block", Type: "business"}),
		companyMatch("8.8.8.0/24", model.CompanyPayload{Name: "Narrow Block", Type: "business"}),
	}
	m := resolveCompany(ms, "")
	require.NotNil(t, m)
	assert.Equal(t, "Narrow Block", m.Payload.Name)
}
