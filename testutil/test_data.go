package testutil

// TestBaseDN is the search base used by SetupTestComputers.
const TestBaseDN = "OU=Computers,OU=Equipment,DC=example,DC=com"

// SetupTestComputers replaces the mock's accounts with a standard fleet:
// PC01 and SRV-DB01 below TestBaseDN, and LAB01 outside of it.
func SetupTestComputers(mock *MockLDAPConn) {
	mock.mu.Lock()
	mock.Computers = nil
	mock.mu.Unlock()

	mock.AddComputer("CN=PC01,"+TestBaseDN, "PC01$")
	mock.AddComputer("CN=SRV-DB01,OU=Servers,"+TestBaseDN, "SRV-DB01$")
	mock.AddComputer("CN=LAB01,OU=Lab,DC=example,DC=com", "LAB01$")
}
