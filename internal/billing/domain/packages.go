package domain

import "sort"

// PackageID identifies a purchasable credit package.
type PackageID string

const (
	PackageStarter PackageID = "starter"
	PackagePro     PackageID = "pro"
	PackageGrowth  PackageID = "growth"
)

// CreditPackage describes a bundle sold through checkout.
type CreditPackage struct {
	ID      PackageID
	Label   string
	Credits int64
	// PriceEnv names the environment variable holding the provider price id.
	PriceEnv string
}

var packageCatalog = map[PackageID]CreditPackage{
	PackageStarter: {ID: PackageStarter, Label: "Starter", Credits: 5, PriceEnv: "STRIPE_PRICE_STARTER"},
	PackagePro:     {ID: PackagePro, Label: "Pro", Credits: 15, PriceEnv: "STRIPE_PRICE_PRO"},
	PackageGrowth:  {ID: PackageGrowth, Label: "Growth", Credits: 50, PriceEnv: "STRIPE_PRICE_GROWTH"},
}

// LookupPackage returns the catalog entry for id.
func LookupPackage(id PackageID) (CreditPackage, bool) {
	pkg, ok := packageCatalog[id]
	return pkg, ok
}

// Packages lists the catalog ordered by credit amount.
func Packages() []CreditPackage {
	out := make([]CreditPackage, 0, len(packageCatalog))
	for _, pkg := range packageCatalog {
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credits < out[j].Credits })
	return out
}
